package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/graphchat-go/internal/logging"
)

// checkTimeout bounds each dependency check in /api/ready.
const checkTimeout = 5 * time.Second

// Role is the part of graphchat a dependency serves. Readiness reports the
// role next to the backend name so operators can see, for example, whether
// graphs are kept in Neo4j or in process memory.
type Role string

const (
	RoleLLM         Role = "llm"
	RoleEmbedder    Role = "embedder"
	RoleVectorStore Role = "vector_store"
	RoleGraphStore  Role = "graph_store"
	RoleBuildLease  Role = "build_lease"
	RoleHistory     Role = "history"
)

// Pinger reports whether one dependency is reachable. Implementations must be
// safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name is the backend, e.g. "neo4j" or "memory".
	Name() string
	Role() Role
}

type readyCheck struct {
	Role      Role   `json:"role"`
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency check succeeded.
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. Every dependency is pinged
// concurrently with its own checkTimeout; the answer is 503 when any fails.
// Checks are listed in registration order.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			checks[i] = check(r.Context(), p)
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		up := 1.0
		if !c.OK {
			up = 0
			resp.Ready = false
			log.Warn("readiness check failed",
				slog.String("role", string(c.Role)),
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
		s.metrics.dependencyUp.WithLabelValues(string(c.Role), c.Name).Set(up)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(r.Context(), w, status, resp)
}

func check(ctx context.Context, p Pinger) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	c := readyCheck{
		Role:      p.Role(),
		Name:      p.Name(),
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}
