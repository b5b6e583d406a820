package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/build"
	"github.com/54b3r/graphchat-go/internal/graph/render"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// NewGraphCmd constructs the `graphchat graph` command group.
func NewGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and view a session's knowledge graph",
	}
	cmd.AddCommand(newGraphBuildCmd(), newGraphViewCmd())
	return cmd
}

func newGraphBuildCmd() *cobra.Command {
	var sessionID, engine, outPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Extract a knowledge graph from a session's conversation and PDFs",
		Long: `Extract entities and relations from a session and store them in the graph
store. The simple engine makes one model call over the whole session and
replaces the stored graph. The multi engine extracts per passage, merges
entities across documents, and keeps the graph between builds.

Examples:
  graphchat graph build --session demo --out graph.html
  graphchat graph build --session demo --engine multi`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				return fmt.Errorf("graph build: %w", errNoSession)
			}
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := newApp(ctx, log, engine)
			if err != nil {
				return fmt.Errorf("graph build: %w", err)
			}
			defer a.Close()

			out, err := a.coord.Run(ctx, graph.SessionNamespace(sessionID), func(ctx context.Context) (*build.Output, error) {
				sess, err := a.sessions.Get(ctx, sessionID)
				if err != nil {
					return nil, err
				}
				return a.builder.Build(ctx, sess)
			})
			if err != nil {
				return fmt.Errorf("graph build: %w", err)
			}
			log.Info("graph build: done",
				slog.String("engine", a.engine),
				slog.Int("nodes", len(out.Nodes)),
				slog.Int("edges", len(out.Edges)),
				slog.Bool("partial", out.Partial),
				slog.Bool("failed", out.Failed),
			)

			fmt.Fprintln(cmd.OutOrStdout(), out.Summary)
			if outPath != "" && out.HTML != "" {
				return writeOutput(outPath, cmd.OutOrStdout(), []byte(out.HTML))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to build the graph for")
	cmd.Flags().StringVar(&engine, "engine", "", "Graph engine: simple or multi (default: GRAPHCHAT_GRAPH_ENGINE or simple)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the rendered HTML page to this file")

	return cmd
}

func newGraphViewCmd() *cobra.Command {
	var sessionID, outPath, format string

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Render the stored graph of a session",
		Long: `Read a session's stored graph, reduce it to the configured node and edge
caps (GRAPHCHAT_GRAPH_MAX_NODES, GRAPHCHAT_GRAPH_MAX_EDGES), and write it as an
HTML page or as vis-network JSON.

Examples:
  graphchat graph view --session demo --out graph.html
  graphchat graph view --session demo --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				return fmt.Errorf("graph view: %w", errNoSession)
			}
			if format != "html" && format != "json" {
				return fmt.Errorf("graph view: --format must be html or json, got %q", format)
			}
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := newApp(ctx, log, "")
			if err != nil {
				return fmt.Errorf("graph view: %w", err)
			}
			defer a.Close()

			out, err := build.View(ctx, a.graph, graph.SessionNamespace(sessionID), a.limits, render.Options{})
			if err != nil {
				return fmt.Errorf("graph view: %w", err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), out.Summary)

			if format == "json" {
				data, err := render.JSON(out.Nodes, out.Edges)
				if err != nil {
					return fmt.Errorf("graph view: %w", err)
				}
				return writeOutput(outPath, cmd.OutOrStdout(), data)
			}
			if out.HTML == "" {
				return nil
			}
			return writeOutput(outPath, cmd.OutOrStdout(), []byte(out.HTML))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id whose graph to render")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&format, "format", "html", "Output format: html or json")

	return cmd
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(path string, stdout io.Writer, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}
