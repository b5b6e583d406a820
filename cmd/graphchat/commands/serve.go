package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/server"
)

// NewServeCmd constructs the `graphchat serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the graphchat HTTP API server",
		Long: `Start the graphchat HTTP API server.

The server exposes sessions, PDF uploads, a streaming chat endpoint, and
knowledge-graph builds over a REST/SSE API, plus /api/health, /api/ready and
/metrics for operators.

Examples:
  graphchat serve
  graphchat serve --port 9090
  GRAPHCHAT_GRAPH_ENGINE=multi NEO4J_URI=bolt://localhost:7687 graphchat serve
  GRAPHCHAT_BUILD_RATE_LIMIT=0.05 graphchat serve   # one build per 20s per client`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			a, err := newApp(ctx, log, "")
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			srv, err := server.New(server.Deps{
				Sessions:    a.sessions,
				Chat:        a.chat,
				Ingest:      a.ingest,
				Builder:     a.builder,
				Coordinator: a.coord,
				Graph:       a.graph,
			}, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     a.pingers,
				APIKey:      os.Getenv("GRAPHCHAT_API_KEY"),
				GraphEngine: a.engine,
				GraphLimits: a.limits,

				RateLimit:      getEnvFloat("GRAPHCHAT_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("GRAPHCHAT_RATE_BURST", 0),
				BuildRateLimit: getEnvFloat("GRAPHCHAT_BUILD_RATE_LIMIT", 0),
				BuildRateBurst: getEnvInt("GRAPHCHAT_BUILD_RATE_BURST", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
