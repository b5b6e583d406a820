package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
	"github.com/54b3r/graphchat-go/internal/graph/reduce"
	"github.com/54b3r/graphchat-go/internal/graph/render"
	"github.com/54b3r/graphchat-go/internal/provider"
	"github.com/54b3r/graphchat-go/internal/session"
)

// scriptedChatter answers with reply(last user message). Safe for the
// engine's concurrent calls.
type scriptedChatter struct {
	reply func(user string) (string, error)

	mu    sync.Mutex
	calls [][]provider.Message
}

func (c *scriptedChatter) Chat(_ context.Context, msgs []provider.Message, _ provider.ChatOptions) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, msgs)
	c.mu.Unlock()
	return c.reply(msgs[len(msgs)-1].Content)
}

func (c *scriptedChatter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func fixed(reply string) *scriptedChatter {
	return &scriptedChatter{reply: func(string) (string, error) { return reply, nil }}
}

type staticChunks []string

func (s staticChunks) Chunks(context.Context, string) ([]string, error) { return s, nil }

func chatState(id string, turns ...string) session.State {
	st := session.State{ID: id}
	for i, t := range turns {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		st.Messages = append(st.Messages, session.Message{Role: role, Content: t})
	}
	return st
}

// ---------------------------------------------------------------------------
// Builder (single call)
// ---------------------------------------------------------------------------

const twoNodeGraph = `Here is the graph:
{"nodes":[{"id":"ada","label":"Ada Lovelace"},{"id":"engine","label":""}],
 "edges":[{"source":"ada","target":"engine","type":"programmed"},{"source":"ada","target":"ghost","type":"knows"}]}`

func TestBuilder_BuildStoresAndRenders(t *testing.T) {
	t.Parallel()

	llm := fixed(twoNodeGraph)
	store := graphstore.NewMemoryStore()
	b, err := NewBuilder(BuilderConfig{LLM: llm, Store: store, Chunks: staticChunks{"The Analytical Engine."}})
	require.NoError(t, err)

	out, err := b.Build(context.Background(), chatState("s1", "Who was Ada?", "A mathematician."))
	require.NoError(t, err)

	assert.Equal(t, "graph built: 2 nodes, 1 edges", out.Summary)
	assert.False(t, out.Partial)
	assert.False(t, out.Failed)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "engine", out.Nodes[1].Label, "empty label falls back to id")
	assert.Equal(t, []graph.Edge{{Source: "ada", Target: "engine", Type: "programmed"}}, out.Edges)
	assert.Contains(t, out.HTML, "vis-network")

	ids, err := store.EntityIDs(context.Background(), graph.SessionNamespace("s1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "engine"}, ids)

	require.Equal(t, 1, llm.callCount())
	user := llm.calls[0][len(llm.calls[0])-1].Content
	assert.Contains(t, user, "USER: Who was Ada?")
	assert.Contains(t, user, "ASSISTANT: A mathematician.")
	assert.Contains(t, user, "The Analytical Engine.")
}

func TestBuilder_ReplacesPreviousGraph(t *testing.T) {
	t.Parallel()

	store := graphstore.NewMemoryStore()
	ns := graph.SessionNamespace("s1")
	require.NoError(t, store.UpsertNode(context.Background(), ns, graph.Node{ID: "stale", Label: "Stale"}))

	b, err := NewBuilder(BuilderConfig{LLM: fixed(twoNodeGraph), Store: store})
	require.NoError(t, err)
	_, err = b.Build(context.Background(), chatState("s1", "hello"))
	require.NoError(t, err)

	ids, _ := store.EntityIDs(context.Background(), ns)
	assert.NotContains(t, ids, "stale")
}

func TestBuilder_EmptySession(t *testing.T) {
	t.Parallel()

	llm := fixed(twoNodeGraph)
	b, err := NewBuilder(BuilderConfig{LLM: llm, Store: graphstore.NewMemoryStore()})
	require.NoError(t, err)

	out, err := b.Build(context.Background(), session.State{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, emptySummary, out.Summary)
	assert.Zero(t, llm.callCount())
}

func TestBuilder_UnparseableKeepsStore(t *testing.T) {
	t.Parallel()

	store := graphstore.NewMemoryStore()
	ns := graph.SessionNamespace("s1")
	require.NoError(t, store.UpsertNode(context.Background(), ns, graph.Node{ID: "kept", Label: "Kept"}))

	b, err := NewBuilder(BuilderConfig{LLM: fixed("Sorry, I cannot produce a graph."), Store: store})
	require.NoError(t, err)

	out, err := b.Build(context.Background(), chatState("s1", "hi"))
	require.NoError(t, err)
	assert.True(t, out.Failed)
	assert.True(t, strings.HasPrefix(out.Summary, "could not parse graph from model output. Model response:"))
	assert.Equal(t, "Sorry, I cannot produce a graph.", out.Raw)

	ids, _ := store.EntityIDs(context.Background(), ns)
	assert.Equal(t, []string{"kept"}, ids)
}

func TestBuilder_PartialRecovery(t *testing.T) {
	t.Parallel()

	truncated := `{"nodes":[{"id":"a","label":"A"},{"id":"b","label":"B"}],"edges":[{"source":"a","target":"b","type":"x"},{"source":"b","tar`
	b, err := NewBuilder(BuilderConfig{LLM: fixed(truncated), Store: graphstore.NewMemoryStore()})
	require.NoError(t, err)

	out, err := b.Build(context.Background(), chatState("s1", "hi"))
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Equal(t, "graph partially recovered: 2 nodes, 1 edges", out.Summary)
	assert.Len(t, out.Edges, 1)
}

func TestBuilder_ModelError(t *testing.T) {
	t.Parallel()

	llm := &scriptedChatter{reply: func(string) (string, error) { return "", errors.New("backend down") }}
	b, err := NewBuilder(BuilderConfig{LLM: llm, Store: graphstore.NewMemoryStore()})
	require.NoError(t, err)

	_, err = b.Build(context.Background(), chatState("s1", "hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestNewBuilder_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder(BuilderConfig{Store: graphstore.NewMemoryStore()})
	assert.Error(t, err)
	_, err = NewBuilder(BuilderConfig{LLM: fixed("")})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Engine (per-chunk, multi-document)
// ---------------------------------------------------------------------------

// passageAnswers maps a marker found in the passage to the model's answer.
func passageAnswers(answers map[string]string) *scriptedChatter {
	return &scriptedChatter{reply: func(user string) (string, error) {
		for marker, ans := range answers {
			if strings.Contains(user, marker) {
				return ans, nil
			}
		}
		return `{"entities":[],"relationships":[]}`, nil
	}}
}

const adaBabbage = `{"entities":[
  {"entity_name":"Ada","entity_type":"PERSON","entity_description":"Mathematician"},
  {"entity_name":"Babbage","entity_type":"PERSON","entity_description":"Inventor"}],
 "relationships":[
  {"source_entity":"Ada","target_entity":"Babbage","relationship_description":"worked with","relationship_keywords":"collaboration"},
  {"source_entity":"Ada","target_entity":"Ada","relationship_description":"self","relationship_keywords":""}]}`

const adaTuring = `Sure! {"entities":[
  {"entity_name":"Ada","entity_type":"PERSON","entity_description":"Programmer"},
  {"entity_name":"Turing","entity_type":"PERSON","entity_description":"Computer scientist"}],
 "relationships":[
  {"source_entity":"Turing","target_entity":"Ada","relationship_description":"","relationship_keywords":"cited"}]}`

func newTestEngine(t *testing.T, llm provider.Chatter) (*Engine, *graphstore.MemoryStore) {
	t.Helper()
	store := graphstore.NewMemoryStore()
	e, err := NewEngine(EngineConfig{LLM: llm, Store: store, ChunkChars: 1000, ChunkOverlap: 100})
	require.NoError(t, err)
	return e, store
}

func TestEngine_InsertMergesAcrossDocuments(t *testing.T) {
	t.Parallel()

	llm := passageAnswers(map[string]string{"[doc1]": adaBabbage, "[doc2]": adaTuring})
	e, store := newTestEngine(t, llm)
	ctx := context.Background()

	st, err := e.Insert(ctx, "ws", Doc{ID: "doc1", Text: "[doc1] Ada and Babbage."})
	require.NoError(t, err)
	assert.Equal(t, InsertStats{Chunks: 1, Entities: 2, Relations: 1}, st)

	st, err = e.Insert(ctx, "ws", Doc{ID: "doc2", Text: "[doc2] Turing read Ada."})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Relations)

	ids, _ := store.EntityIDs(ctx, "ws")
	assert.Equal(t, []string{"Ada", "Babbage", "Turing"}, ids)

	desc, _ := store.Describe(ctx, "ws", []string{"Ada"})
	assert.Equal(t, "Mathematician", desc["Ada"], "first description wins")

	edges, _ := store.Edges(ctx, "ws")
	assert.Contains(t, edges, graph.Edge{Source: "Turing", Target: "Ada", Type: "cited"}, "keywords used when description is empty")
}

func TestEngine_DeleteRetractsOnlyThatDocument(t *testing.T) {
	t.Parallel()

	llm := passageAnswers(map[string]string{"[doc1]": adaBabbage, "[doc2]": adaTuring})
	e, store := newTestEngine(t, llm)
	ctx := context.Background()

	_, err := e.Insert(ctx, "ws", Doc{ID: "doc1", Text: "[doc1]"})
	require.NoError(t, err)
	_, err = e.Insert(ctx, "ws", Doc{ID: "doc2", Text: "[doc2]"})
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, "ws", "doc1"))

	ids, _ := store.EntityIDs(ctx, "ws")
	assert.Equal(t, []string{"Ada", "Turing"}, ids)
	edges, _ := store.Edges(ctx, "ws")
	assert.Equal(t, []graph.Edge{{Source: "Turing", Target: "Ada", Type: "cited"}}, edges)
}

func TestEngine_SkipsUnparseableChunk(t *testing.T) {
	t.Parallel()

	llm := passageAnswers(map[string]string{"[good]": adaBabbage, "[bad]": "I could not find anything."})
	store := graphstore.NewMemoryStore()
	e, err := NewEngine(EngineConfig{LLM: llm, Store: store, ChunkChars: 10, ChunkOverlap: 0})
	require.NoError(t, err)

	st, err := e.Insert(context.Background(), "ws", Doc{ID: "d", Text: "[good]    [bad]     "})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, 1, st.FailedChunks)
	assert.Equal(t, 2, st.Entities)
}

func TestEngine_ModelErrorAborts(t *testing.T) {
	t.Parallel()

	llm := &scriptedChatter{reply: func(string) (string, error) { return "", errors.New("quota") }}
	e, _ := newTestEngine(t, llm)

	_, err := e.Insert(context.Background(), "ws", Doc{ID: "d", Text: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestEngine_PromptCarriesSchemaAndDocument(t *testing.T) {
	t.Parallel()

	llm := fixed(`{"entities":[],"relationships":[]}`)
	e, _ := newTestEngine(t, llm)

	_, err := e.Insert(context.Background(), "ws", Doc{ID: "paper.pdf", Text: "passage"})
	require.NoError(t, err)
	require.Equal(t, 1, llm.callCount())

	system := llm.calls[0][0]
	assert.Equal(t, provider.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Document: paper.pdf")
	assert.Contains(t, system.Content, `"entity_name"`)
	assert.Equal(t, "passage", llm.calls[0][1].Content)
}

func TestDecodeFlexible(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"plain":          `{"entities":[{"entity_name":"A"}],"relationships":[]}`,
		"wrapped":        "```json\n{\"entities\":[{\"entity_name\":\"A\"}]}\n```",
		"double encoded": `"{\"entities\":[{\"entity_name\":\"A\"}]}"`,
		"trailing comma": `{"entities":[{"entity_name":"A",}],}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var ans chunkAnswer
			require.NoError(t, decodeFlexible(raw, &ans))
			require.Len(t, ans.Entities, 1)
			assert.Equal(t, "A", ans.Entities[0].Name)
		})
	}
}

// ---------------------------------------------------------------------------
// EngineBuilder and View
// ---------------------------------------------------------------------------

type mapLoader map[string]string

func (m mapLoader) LoadText(_ context.Context, path string) (string, int, error) {
	text, ok := m[path]
	if !ok {
		return "", 0, os.ErrNotExist
	}
	return text, 1, nil
}

func TestEngineBuilder_ReplacesChatDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pdf := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0o644))

	llm := passageAnswers(map[string]string{
		"[paper]":    `{"entities":[{"entity_name":"Graph","entity_description":"Structure"}],"relationships":[]}`,
		"first chat": `{"entities":[{"entity_name":"Alpha","entity_description":"Old topic"}],"relationships":[]}`,
		"second":     `{"entities":[{"entity_name":"Beta","entity_description":"New topic"}],"relationships":[]}`,
	})
	engine, store := newTestEngine(t, llm)
	b, err := NewEngineBuilder(EngineBuilderConfig{
		Engine: engine,
		Store:  store,
		Loader: mapLoader{pdf: "[paper] text"},
		Limits: reduce.DefaultLimits(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	sess := chatState("s1", "first chat")
	sess.AttachedPDFs = []string{pdf, filepath.Join(dir, "missing.pdf")}
	out, err := b.Build(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "Entities: 2, relations: 0", out.Summary)

	sess.Messages = []session.Message{{Role: session.RoleUser, Content: "second"}}
	out, err = b.Build(ctx, sess)
	require.NoError(t, err)

	ids, _ := store.EntityIDs(ctx, graph.SessionNamespace("s1"))
	assert.ElementsMatch(t, []string{"Graph", "Beta"}, ids)
	assert.Len(t, out.Nodes, 2)
	assert.NotEmpty(t, out.HTML)
}

func TestEngineBuilder_Empty(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t, fixed(""))
	b, err := NewEngineBuilder(EngineBuilderConfig{Engine: engine, Store: store, Loader: mapLoader{}})
	require.NoError(t, err)

	out, err := b.Build(context.Background(), session.State{ID: "s1", AttachedPDFs: []string{"/does/not/exist.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, emptySummary, out.Summary)
}

func TestView_Summaries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := graphstore.NewMemoryStore()

	out, err := View(ctx, store, "ws", reduce.DefaultLimits(), render.Options{})
	require.NoError(t, err)
	assert.Equal(t, "no graph data extracted yet", out.Summary)
	assert.Empty(t, out.HTML)

	for _, id := range []string{"hub", "a", "b", "c"} {
		require.NoError(t, store.UpsertNode(ctx, "ws", graph.Node{ID: id, Label: id}))
	}
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.UpsertEdge(ctx, "ws", graph.Edge{Source: "hub", Target: id, Type: "links"})
		require.NoError(t, err)
	}

	out, err = View(ctx, store, "ws", reduce.Limits{MaxNodes: 2}, render.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Entities: 4, relations: 3 (showing 2 of 4)", out.Summary)
	assert.Equal(t, "hub", out.Nodes[0].ID)

	out, err = View(ctx, store, "ws", reduce.Limits{MaxEdges: 1}, render.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Entities: 4, relations: 3 (showing 1 of 3 relations)", out.Summary)

	out, err = View(ctx, store, "ws", reduce.Limits{}, render.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Entities: 4, relations: 3", out.Summary)
}
