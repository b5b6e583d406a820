package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/54b3r/graphchat-go/internal/coordinator"
	"github.com/54b3r/graphchat-go/internal/graph/build"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
	"github.com/54b3r/graphchat-go/internal/graph/reduce"
	"github.com/54b3r/graphchat-go/internal/graph/render"
	"github.com/54b3r/graphchat-go/internal/ingestion"
	"github.com/54b3r/graphchat-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a blocking graph build.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat answer. Defaults to 5 minutes.
	ChatTimeout time.Duration
	// MaxUploadBytes caps a multipart PDF upload. Defaults to 64 MiB.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on mutating
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// BuildRateLimit is the per-IP rate for POST /api/graph/build and
	// /api/graph/start, which are limited separately from other routes.
	// Defaults to 0.2 (one build every five seconds).
	BuildRateLimit float64
	// BuildRateBurst defaults to 2.
	BuildRateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// GraphEngine labels build metrics ("simple" or "multi").
	GraphEngine string
	// GraphLimits bounds GET /api/graph/view. The zero value is unbounded.
	GraphLimits reduce.Limits
	// Render configures the generated HTML page.
	Render render.Options
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the services behind the API.
type Deps struct {
	Sessions    *session.Registry
	Chat        Answerer
	Ingest      *ingestion.Pipeline
	Builder     build.SessionBuilder
	Coordinator *coordinator.Coordinator
	Graph       graphstore.Store
}

// Answerer streams one chat answer. *chat.Pipeline satisfies it.
type Answerer interface {
	Answer(ctx context.Context, sessionID, question string, w io.Writer) error
}

// sessionService is the part of *session.Registry the handlers use.
type sessionService interface {
	Create(ctx context.Context) (session.State, error)
	Get(ctx context.Context, id string) (session.State, error)
	Snapshot(ctx context.Context, id string) (session.State, error)
}

// uploader indexes one uploaded PDF. *ingestion.Pipeline satisfies it.
type uploader interface {
	IngestFile(ctx context.Context, sessionID, name string, r io.Reader) (ingestion.Stats, error)
}

// Server is the HTTP server that exposes sessions, chat, and graph builds.
type Server struct {
	sessions sessionService
	answerer Answerer
	uploader uploader
	builder  build.SessionBuilder
	coord    *coordinator.Coordinator
	graph    graphstore.Store

	// views collapses concurrent GET /api/graph/view requests per namespace.
	views singleflight.Group

	cfg        *Config
	httpServer *http.Server
	log        *slog.Logger
	pingers    []Pinger
	metrics    *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// graphRequest is the JSON body for POST /api/graph/build and /api/graph/start.
type graphRequest struct {
	SessionID string `json:"session_id"`
}

// uploadResponse is the JSON response for POST /api/sessions/{id}/pdfs.
type uploadResponse struct {
	SessionID string            `json:"session_id"`
	Files     []ingestion.Stats `json:"files"`
}

// startResponse is the JSON response for POST /api/graph/start.
type startResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// statusResponse is the JSON response for GET /api/graph/status.
type statusResponse struct {
	Status string        `json:"status"`
	Result *build.Output `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}
