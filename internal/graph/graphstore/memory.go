package graphstore

import (
	"context"
	"slices"
	"sync"

	"github.com/54b3r/graphchat-go/internal/graph"
)

type memNode struct {
	label       string
	description string
	sources     []string
}

type memEdge struct {
	edge    graph.Edge
	sources []string
}

// memGraph is one namespace. order keeps node ids in insertion order.
type memGraph struct {
	nodes map[string]*memNode
	order []string
	edges []*memEdge
}

func newMemGraph() *memGraph {
	return &memGraph{nodes: make(map[string]*memNode)}
}

// MemoryStore is an in-process DocumentStore.
type MemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]*memGraph
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{graphs: make(map[string]*memGraph)}
}

func (m *MemoryStore) graphFor(ns string) *memGraph {
	g, ok := m.graphs[ns]
	if !ok {
		g = newMemGraph()
		m.graphs[ns] = g
	}
	return g
}

// DeleteNamespace drops every node and relation of ns.
func (m *MemoryStore) DeleteNamespace(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.graphs, ns)
	return nil
}

// UpsertNode creates or relabels the node.
func (m *MemoryStore) UpsertNode(_ context.Context, ns string, node graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.graphFor(ns)
	n, ok := g.nodes[node.ID]
	if !ok {
		n = &memNode{}
		g.nodes[node.ID] = n
		g.order = append(g.order, node.ID)
	}
	n.label = node.Label
	return nil
}

// UpsertEdge links two existing nodes. A relation is identified by its
// endpoints and type.
func (m *MemoryStore) UpsertEdge(_ context.Context, ns string, edge graph.Edge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.graphFor(ns)
	if g.nodes[edge.Source] == nil || g.nodes[edge.Target] == nil {
		return false, nil
	}
	if g.findEdge(edge) == nil {
		g.edges = append(g.edges, &memEdge{edge: edge})
	}
	return true, nil
}

func (g *memGraph) findEdge(edge graph.Edge) *memEdge {
	for _, e := range g.edges {
		if e.edge == edge {
			return e
		}
	}
	return nil
}

// EntityIDs returns node ids in insertion order.
func (m *MemoryStore) EntityIDs(_ context.Context, ns string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.graphs[ns]
	if !ok {
		return []string{}, nil
	}
	return slices.Clone(g.order), nil
}

// Edges returns relations in insertion order.
func (m *MemoryStore) Edges(_ context.Context, ns string) ([]graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.graphs[ns]
	if !ok {
		return []graph.Edge{}, nil
	}
	out := make([]graph.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e.edge)
	}
	return out, nil
}

// Describe returns the description of each id, falling back to its label.
func (m *MemoryStore) Describe(_ context.Context, ns string, ids []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(ids))
	g, ok := m.graphs[ns]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		if d := graph.LabelOrID(n.description, n.label); d != "" {
			out[id] = d
		}
	}
	return out, nil
}

// MergeEntity creates the entity if needed and records docID.
func (m *MemoryStore) MergeEntity(_ context.Context, ns, id, description, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.graphFor(ns)
	n, ok := g.nodes[id]
	if !ok {
		n = &memNode{}
		g.nodes[id] = n
		g.order = append(g.order, id)
	}
	if n.description == "" {
		n.description = description
		n.label = description
	}
	if !slices.Contains(n.sources, docID) {
		n.sources = append(n.sources, docID)
	}
	return nil
}

// MergeRelation links two existing entities and records docID.
func (m *MemoryStore) MergeRelation(_ context.Context, ns string, edge graph.Edge, docID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.graphFor(ns)
	if g.nodes[edge.Source] == nil || g.nodes[edge.Target] == nil {
		return false, nil
	}
	e := g.findEdge(edge)
	if e == nil {
		e = &memEdge{edge: edge}
		g.edges = append(g.edges, e)
	}
	if !slices.Contains(e.sources, docID) {
		e.sources = append(e.sources, docID)
	}
	return true, nil
}

// DeleteDocument retracts docID and prunes anything left without a source.
func (m *MemoryStore) DeleteDocument(_ context.Context, ns, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.graphs[ns]
	if !ok {
		return nil
	}

	removed := make(map[string]bool)
	order := g.order[:0]
	for _, id := range g.order {
		n := g.nodes[id]
		if slices.Contains(n.sources, docID) {
			n.sources = slices.DeleteFunc(n.sources, func(s string) bool { return s == docID })
			if len(n.sources) == 0 {
				delete(g.nodes, id)
				removed[id] = true
				continue
			}
		}
		order = append(order, id)
	}
	g.order = order

	g.edges = slices.DeleteFunc(g.edges, func(e *memEdge) bool {
		if removed[e.edge.Source] || removed[e.edge.Target] {
			return true
		}
		if slices.Contains(e.sources, docID) {
			e.sources = slices.DeleteFunc(e.sources, func(s string) bool { return s == docID })
			return len(e.sources) == 0
		}
		return false
	})
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error { return nil }
