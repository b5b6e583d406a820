package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/graphchat-go/internal/provider"
	"github.com/54b3r/graphchat-go/internal/rag"
	"github.com/54b3r/graphchat-go/internal/session"
)

type recordingLLM struct {
	reply string
	err   error
	got   []provider.Message
}

func (r *recordingLLM) Chat(_ context.Context, msgs []provider.Message, _ provider.ChatOptions) (string, error) {
	r.got = msgs
	return r.reply, r.err
}

type stubRetriever struct {
	docs   []rag.Document
	err    error
	filter rag.Filter
	topK   int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, topK int, f rag.Filter) ([]rag.Document, error) {
	s.filter, s.topK = f, topK
	return s.docs, s.err
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewRegistry()
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestAnswer_MessageOrderAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := session.NewRegistry()
	_ = reg.AppendMessage(ctx, "s1", session.RoleUser, "earlier question")
	_ = reg.AppendMessage(ctx, "s1", session.RoleAssistant, "earlier answer")

	llm := &recordingLLM{reply: "Paris."}
	ret := &stubRetriever{docs: []rag.Document{{Content: "chunk one"}, {Content: "chunk two"}}}
	p := newPipeline(t, Config{LLM: llm, Sessions: reg, Retriever: ret})

	var out strings.Builder
	if err := p.Answer(ctx, "s1", "Capital of France?", &out); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if out.String() != "Paris." {
		t.Errorf("want answer written, got %q", out.String())
	}

	roles := make([]provider.Role, len(llm.got))
	for i, m := range llm.got {
		roles[i] = m.Role
	}
	want := []provider.Role{provider.RoleSystem, provider.RoleUser, provider.RoleAssistant, provider.RoleSystem, provider.RoleUser}
	if len(roles) != len(want) {
		t.Fatalf("want roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("want roles %v, got %v", want, roles)
		}
	}

	block := llm.got[3].Content
	if !strings.HasPrefix(block, "Here is additional context retrieved from the user's documents:") {
		t.Errorf("unexpected context block %q", block)
	}
	if !strings.Contains(block, "chunk one\n\n---\n\nchunk two") {
		t.Errorf("want chunks joined by separator, got %q", block)
	}
	if llm.got[4].Content != "Capital of France?" {
		t.Errorf("want question last, got %q", llm.got[4].Content)
	}

	if ret.filter.SessionID != "s1" || ret.topK != rag.DefaultTopK {
		t.Errorf("want session-scoped top-%d retrieval, got %+v top %d", rag.DefaultTopK, ret.filter, ret.topK)
	}

	sess, _ := reg.Snapshot(ctx, "s1")
	if len(sess.Messages) != 4 || sess.Messages[3].Content != "Paris." {
		t.Errorf("want both turns recorded, got %+v", sess.Messages)
	}
}

func TestAnswer_GlobalScope(t *testing.T) {
	t.Parallel()

	ret := &stubRetriever{}
	p := newPipeline(t, Config{LLM: &recordingLLM{reply: "ok"}, Retriever: ret, Scope: ScopeGlobal, TopK: 3})

	if err := p.Answer(context.Background(), "s1", "q", &strings.Builder{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ret.filter.SessionID != "" || ret.topK != 3 {
		t.Errorf("want unfiltered top-3 retrieval, got %+v top %d", ret.filter, ret.topK)
	}
}

func TestAnswer_RetrievalFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	llm := &recordingLLM{reply: "still here"}
	p := newPipeline(t, Config{LLM: llm, Retriever: &stubRetriever{err: errors.New("qdrant down")}})

	var out strings.Builder
	if err := p.Answer(context.Background(), "s1", "q", &out); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(llm.got) != 2 {
		t.Errorf("want system and question only, got %d messages", len(llm.got))
	}
	if out.String() != "still here" {
		t.Errorf("unexpected answer %q", out.String())
	}
}

func TestAnswer_ModelErrorRecordsNothing(t *testing.T) {
	t.Parallel()

	reg := session.NewRegistry()
	p := newPipeline(t, Config{LLM: &recordingLLM{err: errors.New("timeout")}, Sessions: reg})

	if err := p.Answer(context.Background(), "s1", "q", &strings.Builder{}); err == nil {
		t.Fatal("want error from model")
	}
	sess, _ := reg.Snapshot(context.Background(), "s1")
	if len(sess.Messages) != 0 {
		t.Errorf("want no turns recorded, got %d", len(sess.Messages))
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, Config{LLM: &recordingLLM{}})
	if err := p.Answer(context.Background(), "s1", "   ", &strings.Builder{}); err == nil {
		t.Error("want error for empty question")
	}
}

func TestAnswer_TrimsOldHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := session.NewRegistry()
	for range 20 {
		_ = reg.AppendMessage(ctx, "s1", session.RoleUser, strings.Repeat("x", 400))
	}
	llm := &recordingLLM{reply: "ok"}
	p := newPipeline(t, Config{LLM: llm, Sessions: reg, MaxContextTokens: 500})

	if err := p.Answer(ctx, "s1", "q", &strings.Builder{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(llm.got) >= 22 {
		t.Errorf("want history trimmed, got %d messages", len(llm.got))
	}
	if llm.got[0].Role != provider.RoleSystem || llm.got[len(llm.got)-1].Content != "q" {
		t.Error("want system prompt first and question last after trimming")
	}
}

func TestScopeFromEnv(t *testing.T) {
	t.Setenv("GRAPHCHAT_RAG_SCOPE", "GLOBAL")
	if got := ScopeFromEnv(); got != ScopeGlobal {
		t.Errorf("want global, got %s", got)
	}
	t.Setenv("GRAPHCHAT_RAG_SCOPE", "")
	if got := ScopeFromEnv(); got != ScopeSession {
		t.Errorf("want session, got %s", got)
	}
}
