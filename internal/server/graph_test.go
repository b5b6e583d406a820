package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/graphchat-go/internal/coordinator"
	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/build"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
)

func decodeStatus(t *testing.T, body string) statusResponse {
	t.Helper()
	var st statusResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode status %q: %v", body, err)
	}
	return st
}

// ---------------------------------------------------------------------------
// POST /api/graph/build
// ---------------------------------------------------------------------------

func TestGraphBuild_Blocking(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := serve(s, jsonRequest(http.MethodPost, "/api/graph/build", `{"session_id":"s1"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	var out build.Output
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Summary != "built for s1" {
		t.Errorf("want the builder's output, got %q", out.Summary)
	}
	if got := testutil.ToFloat64(s.metrics.graphBuildsTotal.WithLabelValues("simple", modeBlocking, "ok")); got != 1 {
		t.Errorf("want one ok build recorded, got %v", got)
	}
}

func TestGraphBuild_Validation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	for _, body := range []string{`nope`, `{}`} {
		if w := serve(s, jsonRequest(http.MethodPost, "/api/graph/build", body)); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: want 400, got %d", body, w.Code)
		}
	}
}

func TestGraphBuild_Error(t *testing.T) {
	t.Parallel()

	deps := testDeps()
	deps.Builder = &fakeBuilder{err: errors.New("model offline")}
	s := newTestServerWith(t, deps, nil)

	w := serve(s, jsonRequest(http.MethodPost, "/api/graph/build", `{"session_id":"s1"}`))
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "model offline") {
		t.Errorf("want 500 with the cause, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Background builds and contention
// ---------------------------------------------------------------------------

func TestGraphStart_LifecycleAndContention(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	deps := testDeps()
	deps.Builder = &fakeBuilder{out: &build.Output{Summary: "built"}, release: release}
	s := newTestServerWith(t, deps, nil)

	w := serve(s, jsonRequest(http.MethodPost, "/api/graph/start", `{"session_id":"a"}`))
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"started"`) {
		t.Fatalf("start a: want 202 started, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(s, jsonRequest(http.MethodPost, "/api/graph/start", `{"session_id":"a"}`))
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"running"`) {
		t.Errorf("start a again: want 409 running, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(s, jsonRequest(http.MethodPost, "/api/graph/start", `{"session_id":"b"}`))
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"busy"`) {
		t.Errorf("start b: want 409 busy, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(s, jsonRequest(http.MethodPost, "/api/graph/build", `{"session_id":"b"}`))
	if w.Code != http.StatusConflict {
		t.Errorf("build b: want 409, got %d", w.Code)
	}

	w = serve(s, jsonRequest(http.MethodGet, "/api/graph/status?session_id=a", ""))
	if st := decodeStatus(t, w.Body.String()); st.Status != "running" {
		t.Errorf("want running, got %+v", st)
	}

	close(release)

	var done statusResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = serve(s, jsonRequest(http.MethodGet, "/api/graph/status?session_id=a", ""))
		done = decodeStatus(t, w.Body.String())
		if done.Status != "running" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if done.Status != "done" || done.Result == nil || done.Result.Summary != "built for a" {
		t.Fatalf("want done with result, got %+v", done)
	}

	w = serve(s, jsonRequest(http.MethodGet, "/api/graph/status?session_id=a", ""))
	if st := decodeStatus(t, w.Body.String()); st.Status != "not_started" {
		t.Errorf("want the result handed out once, got %+v", st)
	}

	busy := testutil.ToFloat64(s.metrics.graphBuildsTotal.WithLabelValues("simple", modeBackground, "busy")) +
		testutil.ToFloat64(s.metrics.graphBuildsTotal.WithLabelValues("simple", modeBlocking, "busy"))
	if busy != 2 {
		t.Errorf("want two busy rejections recorded, got %v", busy)
	}
}

// unreachableLease fails Acquire as a lease backend that is down would.
type unreachableLease struct{}

func (unreachableLease) Acquire(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func (unreachableLease) Renew(context.Context, string, string, time.Duration) error { return nil }

func (unreachableLease) Release(context.Context, string, string) error { return nil }

func TestGraphStart_LeaseFailureIsNotReportedAsBusy(t *testing.T) {
	t.Parallel()

	deps := testDeps()
	deps.Coordinator = coordinator.New(coordinator.WithLease(unreachableLease{}, time.Minute))
	s := newTestServerWith(t, deps, nil)

	w := serve(s, jsonRequest(http.MethodPost, "/api/graph/start", `{"session_id":"s1"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d: %s", w.Code, w.Body.String())
	}
	var resp startResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "failed" || !strings.Contains(resp.Message, "connection refused") {
		t.Errorf("want failed status with the cause, got %+v", resp)
	}
	if strings.Contains(resp.Message, busyMessage) {
		t.Errorf("want no busy message, got %q", resp.Message)
	}
	if got := testutil.ToFloat64(s.metrics.graphBuildsTotal.WithLabelValues("simple", modeBackground, "busy")); got != 0 {
		t.Errorf("want no busy rejection recorded, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.graphBuildsTotal.WithLabelValues("simple", modeBackground, "error")); got != 1 {
		t.Errorf("want one error recorded, got %v", got)
	}
}

func TestGraphStatus_RequiresSession(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	if w := serve(s, jsonRequest(http.MethodGet, "/api/graph/status", "")); w.Code != http.StatusBadRequest {
		t.Errorf("want 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/graph/view
// ---------------------------------------------------------------------------

func newViewTestServer(t *testing.T) *Server {
	t.Helper()
	store := graphstore.NewMemoryStore()
	res := graph.Result{
		Nodes: []graph.Node{{ID: "ada", Label: "Ada Lovelace"}, {ID: "engine", Label: "Analytical Engine"}},
		Edges: []graph.Edge{{Source: "ada", Target: "engine", Type: "programmed"}},
	}
	if _, err := graphstore.Replace(context.Background(), store, graph.SessionNamespace("s1"), res); err != nil {
		t.Fatalf("seed graph: %v", err)
	}
	deps := testDeps()
	deps.Graph = store
	return newTestServerWith(t, deps, nil)
}

func TestGraphView_HTML(t *testing.T) {
	t.Parallel()

	s := newViewTestServer(t)
	w := serve(s, jsonRequest(http.MethodGet, "/api/graph/view?session_id=s1", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("want text/html, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "vis-network") || !strings.Contains(w.Body.String(), "Ada Lovelace") {
		t.Errorf("want a rendered page carrying the graph, got %s", w.Body.String())
	}
}

func TestGraphView_JSON(t *testing.T) {
	t.Parallel()

	s := newViewTestServer(t)
	w := serve(s, jsonRequest(http.MethodGet, "/api/graph/view?session_id=s1&format=json", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var out build.Output
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Nodes) != 2 || len(out.Edges) != 1 || out.TotalEntities != 2 {
		t.Errorf("want the stored graph, got %+v", out)
	}
}

func TestGraphView_EmptyAndInvalid(t *testing.T) {
	t.Parallel()

	s := newViewTestServer(t)

	w := serve(s, jsonRequest(http.MethodGet, "/api/graph/view?session_id=other", ""))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "no graph data extracted yet") {
		t.Errorf("want 404 with a summary, got %d: %s", w.Code, w.Body.String())
	}

	if w := serve(s, jsonRequest(http.MethodGet, "/api/graph/view", "")); w.Code != http.StatusBadRequest {
		t.Errorf("missing session: want 400, got %d", w.Code)
	}
	if w := serve(s, jsonRequest(http.MethodGet, "/api/graph/view?session_id=s1&format=svg", "")); w.Code != http.StatusBadRequest {
		t.Errorf("bad format: want 400, got %d", w.Code)
	}
}
