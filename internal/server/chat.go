package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/graphchat-go/internal/logging"
)

// handleChat handles POST /api/chat requests. The answer is streamed as
// Server-Sent Events, followed by a "done" event, or an "error" event when
// the answer fails after the stream has started.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log := logging.FromContext(r.Context()).With(slog.String("session_id", req.SessionID))

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	start := time.Now()
	sw := &sseWriter{w: w, flusher: flusher}
	err := s.answerer.Answer(ctx, req.SessionID, req.Message, sw)

	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("server: chat failed", slog.String("outcome", outcome), slog.Any("error", err))
		sw.event("error", err.Error())
		return
	}
	sw.event("done", "[DONE]")
}
