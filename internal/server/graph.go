package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/graphchat-go/internal/coordinator"
	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/build"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// Build modes recorded on the graph build metrics.
const (
	modeBlocking   = "blocking"
	modeBackground = "background"
)

const busyMessage = "a graph build is already in progress, try again shortly"

// buildFunc wraps one session build with metrics. The session is read when
// the build runs, not when it is scheduled.
func (s *Server) buildFunc(sessionID, mode string) coordinator.BuildFunc {
	return func(ctx context.Context) (*build.Output, error) {
		start := time.Now()
		out, err := s.runBuild(ctx, sessionID)

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case out == nil || out.Failed:
			outcome = "failed"
		case out.Partial:
			outcome = "partial"
		}
		s.metrics.graphBuildsTotal.WithLabelValues(s.cfg.GraphEngine, mode, outcome).Inc()
		s.metrics.graphBuildDurationSeconds.WithLabelValues(s.cfg.GraphEngine, mode).Observe(time.Since(start).Seconds())
		return out, err
	}
}

func (s *Server) runBuild(ctx context.Context, sessionID string) (*build.Output, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, sess)
}

// graphSessionID reads session_id from a JSON body, answering 400 when it is
// missing.
func graphSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req graphRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return "", false
	}
	return req.SessionID, true
}

// handleGraphBuild handles POST /api/graph/build. The build runs to
// completion while the client waits.
func (s *Server) handleGraphBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := graphSessionID(w, r)
	if !ok {
		return
	}
	log := logging.FromContext(r.Context()).With(slog.String("session_id", id))

	out, err := s.coord.Run(r.Context(), graph.SessionNamespace(id), s.buildFunc(id, modeBlocking))
	switch {
	case errors.Is(err, coordinator.ErrBusy):
		s.metrics.graphBuildsTotal.WithLabelValues(s.cfg.GraphEngine, modeBlocking, "busy").Inc()
		http.Error(w, busyMessage, http.StatusConflict)
		return
	case errors.Is(err, context.Canceled):
		log.Info("server: client left before the build finished")
		return
	case err != nil:
		log.Error("server: graph build failed", slog.Any("error", err))
		http.Error(w, "graph build failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, out)
}

// handleGraphStart handles POST /api/graph/start. The build runs in the
// background and its result is collected with GET /api/graph/status.
func (s *Server) handleGraphStart(w http.ResponseWriter, r *http.Request) {
	id, ok := graphSessionID(w, r)
	if !ok {
		return
	}

	res, err := s.coord.Start(r.Context(), graph.SessionNamespace(id), s.buildFunc(id, modeBackground))
	switch res {
	case coordinator.StartStarted:
		writeJSON(r.Context(), w, http.StatusAccepted, startResponse{Status: res.String()})
	case coordinator.StartRunning:
		writeJSON(r.Context(), w, http.StatusConflict, startResponse{
			Status:  res.String(),
			Message: "a build for this session is still running",
		})
	case coordinator.StartFailed:
		s.metrics.graphBuildsTotal.WithLabelValues(s.cfg.GraphEngine, modeBackground, "error").Inc()
		writeJSON(r.Context(), w, http.StatusServiceUnavailable, startResponse{
			Status:  res.String(),
			Message: "could not start graph build: " + err.Error(),
		})
	default:
		s.metrics.graphBuildsTotal.WithLabelValues(s.cfg.GraphEngine, modeBackground, "busy").Inc()
		writeJSON(r.Context(), w, http.StatusConflict, startResponse{Status: res.String(), Message: busyMessage})
	}
}

// handleGraphStatus handles GET /api/graph/status?session_id=. A finished
// result is handed out once; the next poll reports not_started.
func (s *Server) handleGraphStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	task, ok := s.coord.Poll(graph.SessionNamespace(id))
	if !ok {
		writeJSON(r.Context(), w, http.StatusOK, statusResponse{Status: "not_started"})
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{
		Status: string(task.Status),
		Result: task.Result,
		Error:  task.Error,
	})
}

// handleGraphView handles GET /api/graph/view?session_id=&format=html|json.
// Concurrent requests for the same session share one store read.
func (s *Server) handleGraphView(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	if format != "html" && format != "json" {
		http.Error(w, "format must be html or json", http.StatusBadRequest)
		return
	}

	ns := graph.SessionNamespace(id)
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := s.views.Do(ns, func() (any, error) {
		return build.View(ctx, s.graph, ns, s.cfg.GraphLimits, s.cfg.Render)
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("server: graph view failed",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
		http.Error(w, "could not load the graph: "+err.Error(), http.StatusInternalServerError)
		return
	}
	out := v.(*build.Output)
	logging.FromContext(r.Context()).Debug("server: graph view",
		slog.String("session_id", id),
		slog.Int("nodes", len(out.Nodes)),
		slog.Bool("shared", shared),
	)

	if format == "json" {
		writeJSON(r.Context(), w, http.StatusOK, out)
		return
	}
	if out.HTML == "" {
		http.Error(w, out.Summary, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out.HTML))
}
