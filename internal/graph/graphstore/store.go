// Package graphstore persists extracted graphs in a property-graph database,
// scoped by namespace. Neo4jStore is the production backend; MemoryStore
// serves tests and deployments without NEO4J_URI.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// Store is the graph-store boundary used by the upsert adapter and the size
// reducer. Implementations must be safe for concurrent use.
type Store interface {
	// DeleteNamespace removes every node tagged with ns and all incident relations.
	DeleteNamespace(ctx context.Context, ns string) error
	// UpsertNode creates or updates the node keyed by (node.ID, ns) and sets its label.
	UpsertNode(ctx context.Context, ns string, node graph.Node) error
	// UpsertEdge links two existing nodes of ns. linked is false when either
	// endpoint is missing, in which case nothing is written.
	UpsertEdge(ctx context.Context, ns string, edge graph.Edge) (linked bool, err error)
	// EntityIDs lists every node id in ns in a stable order.
	EntityIDs(ctx context.Context, ns string) ([]string, error)
	// Edges lists every relation between nodes of ns.
	Edges(ctx context.Context, ns string) ([]graph.Edge, error)
	// Describe returns the stored description of each requested id that has one.
	Describe(ctx context.Context, ns string, ids []string) (map[string]string, error)
	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

// DocumentStore extends Store with per-document provenance so a
// multi-document engine can merge entities and later retract the
// contribution of a single document.
type DocumentStore interface {
	Store
	// MergeEntity creates the entity if absent and records docID as a source.
	// An existing non-empty description is kept.
	MergeEntity(ctx context.Context, ns, id, description, docID string) error
	// MergeRelation links two existing entities and records docID as a source.
	// linked is false when either endpoint is missing.
	MergeRelation(ctx context.Context, ns string, edge graph.Edge, docID string) (linked bool, err error)
	// DeleteDocument removes docID from every source list in ns and deletes
	// entities and relations left without sources.
	DeleteDocument(ctx context.Context, ns, docID string) error
}

// Stats reports what Replace wrote.
type Stats struct {
	// Nodes is the number of nodes upserted.
	Nodes int
	// Edges is the number of relations upserted.
	Edges int
	// SkippedEdges is the number of edges dropped for a missing endpoint.
	SkippedEdges int
}

// Replace makes ns hold exactly res. The namespace is cleared first, then all
// nodes are written, then all edges. Edges with a missing endpoint are skipped.
// A store error aborts the operation and is returned without retry.
func Replace(ctx context.Context, s Store, ns string, res graph.Result) (Stats, error) {
	log := logging.FromContext(ctx)
	var st Stats

	if err := s.DeleteNamespace(ctx, ns); err != nil {
		return st, fmt.Errorf("graphstore: clear %s: %w", ns, err)
	}

	for _, n := range res.Nodes {
		if err := s.UpsertNode(ctx, ns, n); err != nil {
			return st, fmt.Errorf("graphstore: upsert node %q: %w", n.ID, err)
		}
		st.Nodes++
	}

	for _, e := range res.Edges {
		linked, err := s.UpsertEdge(ctx, ns, e)
		if err != nil {
			return st, fmt.Errorf("graphstore: upsert edge %q->%q: %w", e.Source, e.Target, err)
		}
		if !linked {
			st.SkippedEdges++
			continue
		}
		st.Edges++
	}

	log.Info("graphstore: namespace replaced",
		slog.String("namespace", ns),
		slog.Int("nodes", st.Nodes),
		slog.Int("edges", st.Edges),
		slog.Int("skipped_edges", st.SkippedEdges),
	)
	return st, nil
}
