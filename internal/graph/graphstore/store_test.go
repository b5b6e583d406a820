package graphstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/graphchat-go/internal/graph"
)

func sampleResult() graph.Result {
	return graph.Result{
		Nodes: []graph.Node{{ID: "a", Label: "Alpha"}, {ID: "b", Label: "Beta"}},
		Edges: []graph.Edge{
			{Source: "a", Target: "b", Type: "knows"},
			{Source: "a", Target: "ghost", Type: "haunts"},
		},
	}
}

// ---------------------------------------------------------------------------
// Replace
// ---------------------------------------------------------------------------

func TestReplace_WritesNodesAndSkipsDanglingEdges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	st, err := Replace(ctx, s, "session_1", sampleResult())
	require.NoError(t, err)

	assert.Equal(t, Stats{Nodes: 2, Edges: 1, SkippedEdges: 1}, st)

	ids, err := s.EntityIDs(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	edges, err := s.Edges(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, []graph.Edge{{Source: "a", Target: "b", Type: "knows"}}, edges)
}

func TestReplace_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := Replace(ctx, s, "ns", sampleResult())
	require.NoError(t, err)
	_, err = Replace(ctx, s, "ns", sampleResult())
	require.NoError(t, err)

	ids, _ := s.EntityIDs(ctx, "ns")
	edges, _ := s.Edges(ctx, "ns")
	assert.Len(t, ids, 2)
	assert.Len(t, edges, 1)
}

func TestReplace_ClearsPreviousContents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := Replace(ctx, s, "ns", sampleResult())
	require.NoError(t, err)

	_, err = Replace(ctx, s, "ns", graph.Result{Nodes: []graph.Node{{ID: "c", Label: "Gamma"}}})
	require.NoError(t, err)

	ids, _ := s.EntityIDs(ctx, "ns")
	edges, _ := s.Edges(ctx, "ns")
	assert.Equal(t, []string{"c"}, ids)
	assert.Empty(t, edges)
}

func TestReplace_EmptyResultClearsNamespace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := Replace(ctx, s, "ns", sampleResult())
	require.NoError(t, err)

	st, err := Replace(ctx, s, "ns", graph.Result{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	ids, _ := s.EntityIDs(ctx, "ns")
	assert.Empty(t, ids)
}

func TestReplace_NamespacesAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := Replace(ctx, s, "session_1", sampleResult())
	require.NoError(t, err)
	_, err = Replace(ctx, s, "session_2", graph.Result{})
	require.NoError(t, err)

	ids, _ := s.EntityIDs(ctx, "session_1")
	assert.Len(t, ids, 2)
}

// failingStore fails the first UpsertNode call.
type failingStore struct {
	*MemoryStore
}

func (f failingStore) UpsertNode(context.Context, string, graph.Node) error {
	return errors.New("connection reset")
}

func TestReplace_StoreErrorAborts(t *testing.T) {
	t.Parallel()

	s := failingStore{MemoryStore: NewMemoryStore()}

	st, err := Replace(context.Background(), s, "ns", sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, st.Nodes)
}

// ---------------------------------------------------------------------------
// MemoryStore document provenance
// ---------------------------------------------------------------------------

func TestMemoryStore_MergeEntityFirstDescriptionWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.MergeEntity(ctx, "ns", "go", "A programming language", "a.pdf"))
	require.NoError(t, s.MergeEntity(ctx, "ns", "go", "A board game", "b.pdf"))

	desc, err := s.Describe(ctx, "ns", []string{"go", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"go": "A programming language"}, desc)
}

func TestMemoryStore_DeleteDocumentPrunesOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.MergeEntity(ctx, "ns", "shared", "in both", "a.pdf"))
	require.NoError(t, s.MergeEntity(ctx, "ns", "shared", "in both", "b.pdf"))
	require.NoError(t, s.MergeEntity(ctx, "ns", "only-a", "only in a", "a.pdf"))

	linked, err := s.MergeRelation(ctx, "ns", graph.Edge{Source: "shared", Target: "only-a", Type: "mentions"}, "a.pdf")
	require.NoError(t, err)
	require.True(t, linked)

	require.NoError(t, s.DeleteDocument(ctx, "ns", "a.pdf"))

	ids, _ := s.EntityIDs(ctx, "ns")
	edges, _ := s.Edges(ctx, "ns")
	assert.Equal(t, []string{"shared"}, ids)
	assert.Empty(t, edges)
}

func TestMemoryStore_MergeRelationNeedsEndpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.MergeEntity(ctx, "ns", "a", "A", "doc"))

	linked, err := s.MergeRelation(ctx, "ns", graph.Edge{Source: "a", Target: "b"}, "doc")
	require.NoError(t, err)
	assert.False(t, linked)
}
