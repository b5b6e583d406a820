package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/graphchat-go/internal/provider"
)

type fakePinger struct {
	role Role
	name string
	err  error
	// wait, when set, blocks Ping until it is closed or ctx ends.
	wait <-chan struct{}
	// signal, when set, is closed as Ping starts.
	signal chan struct{}
}

func (f *fakePinger) Name() string { return f.name }
func (f *fakePinger) Role() Role   { return f.role }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.signal != nil {
		close(f.signal)
	}
	if f.wait != nil {
		select {
		case <-f.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func newReadyTestServer(t *testing.T, pingers ...Pinger) *Server {
	t.Helper()
	s := newTestServer(t)
	s.pingers = pingers
	return s
}

func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("want application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

// ---------------------------------------------------------------------------
// GET /api/health
// ---------------------------------------------------------------------------

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	w := serve(newTestServer(t), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("want status ok, got %q", body["status"])
	}
}

// ---------------------------------------------------------------------------
// GET /api/ready
// ---------------------------------------------------------------------------

func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	code, resp := getReady(t, newReadyTestServer(t))
	if code != http.StatusOK || !resp.Ready {
		t.Errorf("want 200 ready, got %d %+v", code, resp)
	}
	if resp.Checks == nil || len(resp.Checks) != 0 {
		t.Errorf("want an empty checks array, got %v", resp.Checks)
	}
}

func TestHandleReady_ReportsRolesInOrder(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t,
		NewPinger(RoleGraphStore, "memory", nil),
		NewPinger(RoleBuildLease, "redis", func(context.Context) error { return nil }),
		&fakePinger{role: RoleVectorStore, name: "qdrant"},
	)
	code, resp := getReady(t, s)
	if code != http.StatusOK || !resp.Ready {
		t.Fatalf("want 200 ready, got %d %+v", code, resp)
	}

	want := []struct {
		role Role
		name string
	}{{RoleGraphStore, "memory"}, {RoleBuildLease, "redis"}, {RoleVectorStore, "qdrant"}}
	if len(resp.Checks) != len(want) {
		t.Fatalf("want %d checks, got %+v", len(want), resp.Checks)
	}
	for i, w := range want {
		c := resp.Checks[i]
		if c.Role != w.role || c.Name != w.name || !c.OK || c.Error != "" {
			t.Errorf("check %d: want healthy %s/%s, got %+v", i, w.role, w.name, c)
		}
	}
	if got := testutil.ToFloat64(s.metrics.dependencyUp.WithLabelValues(string(RoleGraphStore), "memory")); got != 1 {
		t.Errorf("want graph store marked up, got %v", got)
	}
}

func TestHandleReady_FailingLeaseBackend(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t,
		NewPinger(RoleGraphStore, "neo4j", func(context.Context) error { return nil }),
		NewPinger(RoleBuildLease, "redis", func(context.Context) error { return errors.New("connection refused") }),
	)
	code, resp := getReady(t, s)
	if code != http.StatusServiceUnavailable || resp.Ready {
		t.Fatalf("want 503 not ready, got %d %+v", code, resp)
	}

	lease := resp.Checks[1]
	if lease.OK || lease.Error != "build_lease redis unreachable: connection refused" {
		t.Errorf("want the lease failure named, got %+v", lease)
	}
	if !resp.Checks[0].OK {
		t.Errorf("want the graph store healthy, got %+v", resp.Checks[0])
	}
	if got := testutil.ToFloat64(s.metrics.dependencyUp.WithLabelValues(string(RoleBuildLease), "redis")); got != 0 {
		t.Errorf("want lease marked down, got %v", got)
	}
}

func TestHandleReady_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// a only returns once b has started, so a sequential check loop would
	// time a out.
	bStarted := make(chan struct{})
	a := &fakePinger{role: RoleGraphStore, name: "neo4j", wait: bStarted}
	b := &fakePinger{role: RoleVectorStore, name: "qdrant", signal: bStarted}

	code, resp := getReady(t, newReadyTestServer(t, a, b))
	if code != http.StatusOK {
		t.Fatalf("want 200, got %d %+v", code, resp)
	}
}

// ---------------------------------------------------------------------------
// Pinger adapters
// ---------------------------------------------------------------------------

type stubChatter struct {
	err  error
	opts provider.ChatOptions
}

func (c *stubChatter) Chat(_ context.Context, _ []provider.Message, opts provider.ChatOptions) (string, error) {
	c.opts = opts
	return "pong", c.err
}

func TestNewPinger(t *testing.T) {
	t.Parallel()

	inProcess := NewPinger(RoleGraphStore, "memory", nil)
	if inProcess.Ping(context.Background()) != nil || inProcess.Role() != RoleGraphStore {
		t.Errorf("want an always-healthy graph store pinger")
	}

	down := errors.New("connection refused")
	bad := NewPinger(RoleBuildLease, "redis", func(context.Context) error { return down })
	if err := bad.Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("want wrapped error, got %v", err)
	}
}

func TestLLMPinger(t *testing.T) {
	t.Parallel()

	c := &stubChatter{}
	p := NewLLMPinger(c, "openai")
	if p.Role() != RoleLLM {
		t.Errorf("want llm role, got %s", p.Role())
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if c.opts.MaxTokens != 1 {
		t.Errorf("want a one-token ping, got max tokens %d", c.opts.MaxTokens)
	}

	c.err = errors.New("401")
	if err := p.Ping(context.Background()); err == nil {
		t.Error("want error from failing backend")
	}
}
