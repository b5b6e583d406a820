// Package server implements the HTTP API for graphchat: sessions, PDF
// uploads, streamed chat answers, and knowledge-graph builds.
// The server is started by the `graphchat serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/graphchat-go/internal/logging"
)

// defaultMaxUploadBytes caps a multipart upload when Config.MaxUploadBytes is zero.
const defaultMaxUploadBytes = 64 << 20

// New constructs a Server from the provided services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("server: session registry must not be nil")
	}
	if deps.Chat == nil {
		return nil, errors.New("server: chat pipeline must not be nil")
	}
	if deps.Builder == nil {
		return nil, errors.New("server: graph builder must not be nil")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("server: coordinator must not be nil")
	}
	if deps.Graph == nil {
		return nil, errors.New("server: graph store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	s := &Server{
		sessions: deps.Sessions,
		answerer: deps.Chat,
		builder:  deps.Builder,
		coord:    deps.Coordinator,
		graph:    deps.Graph,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}
	// A nil *ingestion.Pipeline must not become a non-nil interface.
	if deps.Ingest != nil {
		s.uploader = deps.Ingest
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: GRAPHCHAT_API_KEY is not set, authentication is disabled")
	}

	rl, stop := newRateLimiter(tiersFromConfig(cfg), s.metrics.rateLimitedTotal)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Blocking graph builds and chat streams both hold the connection.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.BuildRateLimit == 0 {
		cfg.BuildRateLimit = defaultBuildRateLimit
	}
	if cfg.BuildRateBurst == 0 {
		cfg.BuildRateBurst = defaultBuildRateBurst
	}
	if cfg.GraphEngine == "" {
		cfg.GraphEngine = "simple"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// routes registers every endpoint. Mutating routes draw from a rate-limit
// tier (graph builds from their own) and all /api/* routes except health and
// ready require the API key.
func (s *Server) routes(rl *rateLimiter) *http.ServeMux {
	mux := http.NewServeMux()

	handle := func(pattern, name string, h http.HandlerFunc, tier string, protected bool) {
		var next http.Handler = h
		if protected {
			next = requireAPIKey(s.cfg.APIKey, next)
		}
		if tier != "" {
			next = rl.limit(tier, name, next)
		}
		mux.Handle(pattern, s.instrument(name, next))
	}

	handle("POST /api/sessions", "sessions_create", s.handleCreateSession, tierAPI, true)
	handle("GET /api/sessions/{id}", "sessions_get", s.handleGetSession, "", true)
	handle("POST /api/sessions/{id}/pdfs", "sessions_upload", s.handleUpload, tierAPI, true)
	handle("POST /api/chat", "chat", s.handleChat, tierAPI, true)
	handle("POST /api/graph/build", "graph_build", s.handleGraphBuild, tierBuild, true)
	handle("POST /api/graph/start", "graph_start", s.handleGraphStart, tierBuild, true)
	handle("GET /api/graph/status", "graph_status", s.handleGraphStatus, "", true)
	handle("GET /api/graph/view", "graph_view", s.handleGraphView, "", true)
	handle("GET /api/health", "health", s.handleHealth, "", false)
	handle("GET /api/ready", "ready", s.handleReady, "", false)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	defer s.stopRL()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("server: encode response", slog.Any("error", err))
	}
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line answers never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	var buf strings.Builder
	for line := range strings.SplitSeq(chunk, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// event writes a named SSE event with a single data line.
func (s *sseWriter) event(name, data string) {
	data = strings.ReplaceAll(data, "\n", " ")
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}
