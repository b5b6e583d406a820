package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric the server registers.
const namespace = "graphchat"

// labelHandler partitions HTTP metrics by the logical endpoint name rather
// than the raw URL path, so session ids do not explode label cardinality.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: "ok", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each /api/chat
	// request from first byte received to stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of /api/chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// graphBuildsTotal counts graph builds by engine, mode, and outcome.
	graphBuildsTotal *prometheus.CounterVec

	// graphBuildDurationSeconds records how long each build ran.
	graphBuildDurationSeconds *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts 429 responses by tier and handler.
	rateLimitedTotal *prometheus.CounterVec

	// dependencyUp is 1 when the dependency serving a role passed its last
	// readiness check and 0 when it failed.
	dependencyUp *prometheus.GaugeVec
}

// newServerMetrics registers all server metrics against reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/chat requests from receipt to stream completion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of /api/chat SSE streams currently open.",
		}),

		graphBuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "builds_total",
			Help:      "Total number of graph builds, partitioned by engine, mode, and outcome.",
		}, []string{"engine", "mode", "outcome"}),

		graphBuildDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of graph builds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"engine", "mode"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429, partitioned by rate-limit tier and handler.",
		}, []string{"tier", labelHandler}),

		dependencyUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "Result of the last readiness check per role and backend (1 reachable, 0 not).",
		}, []string{"role", "dependency"}),
	}
}

// instrument records the request count and latency for the named handler.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
