// Package reduce bounds a stored graph to a size a browser can lay out.
package reduce

import (
	"context"
	"fmt"
	"slices"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
)

// Default caps applied when configuration does not override them.
const (
	DefaultMaxNodes = 300
	DefaultMaxEdges = 500
)

// Limits caps the view. A zero or negative value disables that cap.
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// DefaultLimits returns the default caps.
func DefaultLimits() Limits {
	return Limits{MaxNodes: DefaultMaxNodes, MaxEdges: DefaultMaxEdges}
}

// Input is a full snapshot of one namespace.
type Input struct {
	EntityIDs    []string
	Edges        []graph.Edge
	Descriptions map[string]string
}

// View is the bounded subgraph plus the totals it was cut from.
type View struct {
	Nodes         []graph.Node
	Edges         []graph.Edge
	TotalEntities int
	TotalEdges    int
}

// Reduced reports whether the view omits any entity.
func (v View) Reduced() bool {
	return len(v.Nodes) < v.TotalEntities
}

// Reduce keeps the highest-degree entities and the edges between them.
// Ties keep enumeration order. Edges are kept in input order until MaxEdges.
func Reduce(in Input, lim Limits) View {
	view := View{
		Nodes:         []graph.Node{},
		Edges:         []graph.Edge{},
		TotalEntities: len(in.EntityIDs),
		TotalEdges:    len(in.Edges),
	}

	selected := slices.Clone(in.EntityIDs)
	if lim.MaxNodes > 0 && len(selected) > lim.MaxNodes {
		degree := make(map[string]int, len(selected))
		for _, e := range in.Edges {
			degree[e.Source]++
			degree[e.Target]++
		}
		slices.SortStableFunc(selected, func(a, b string) int {
			return degree[b] - degree[a]
		})
		selected = selected[:lim.MaxNodes]
	}

	keep := make(map[string]bool, len(selected))
	for _, id := range selected {
		keep[id] = true
		view.Nodes = append(view.Nodes, graph.Node{ID: id, Label: graph.LabelOrID(in.Descriptions[id], id)})
	}

	for _, e := range in.Edges {
		if lim.MaxEdges > 0 && len(view.Edges) >= lim.MaxEdges {
			break
		}
		if keep[e.Source] && keep[e.Target] {
			view.Edges = append(view.Edges, e)
		}
	}
	return view
}

// FromStore snapshots ns from s and reduces it. The three reads are not
// atomic, so a concurrent build can make the snapshot inconsistent.
func FromStore(ctx context.Context, s graphstore.Store, ns string, lim Limits) (View, error) {
	ids, err := s.EntityIDs(ctx, ns)
	if err != nil {
		return View{}, fmt.Errorf("reduce: list entities: %w", err)
	}
	edges, err := s.Edges(ctx, ns)
	if err != nil {
		return View{}, fmt.Errorf("reduce: list edges: %w", err)
	}

	view := Reduce(Input{EntityIDs: ids, Edges: edges}, lim)

	kept := make([]string, 0, len(view.Nodes))
	for _, n := range view.Nodes {
		kept = append(kept, n.ID)
	}
	desc, err := s.Describe(ctx, ns, kept)
	if err != nil {
		return View{}, fmt.Errorf("reduce: describe entities: %w", err)
	}
	for i, n := range view.Nodes {
		view.Nodes[i].Label = graph.LabelOrID(desc[n.ID], n.ID)
	}
	return view, nil
}
