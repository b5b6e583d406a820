package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/graphchat-go/internal/ingestion"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// NewIngestCmd constructs the `graphchat ingest` command, which attaches PDFs
// to a session and indexes their text in the vector store.
func NewIngestCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ingest --session <id> file.pdf...",
		Short: "Attach PDFs to a session and index them for retrieval",
		Long: `Save PDFs under the PDF root, attach them to a session, and index their
text in the vector store used by chat retrieval.

Environment variables:
  GRAPHCHAT_PDF_ROOT   Where PDFs are stored (default: ~/.graphchat/pdfs)
  QDRANT_HOST          Qdrant server hostname (unset: in-memory store)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: graphchat_chunks)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure (default: MODEL_PROVIDER)

Examples:
  graphchat ingest --session demo paper.pdf notes.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("ingest: %w", errNoSession)
			}
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := newApp(ctx, log, "")
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			var failed []error
			for _, path := range args {
				st, err := ingestPath(ctx, a.ingest, sessionID, path)
				if err != nil {
					log.Error("ingest: file failed", slog.String("path", path), slog.Any("error", err))
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pages, %d chunks, %d chars%s\n",
					st.FileName, st.NumPages, st.NumChunks, st.TotalChars, suffix(st.Error))
			}
			if len(failed) > 0 {
				return fmt.Errorf("ingest: %w", errors.Join(failed...))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to attach the PDFs to")

	return cmd
}

func ingestPath(ctx context.Context, p *ingestion.Pipeline, sessionID, path string) (ingestion.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.Stats{}, err
	}
	defer f.Close()
	return p.IngestFile(ctx, sessionID, filepath.Base(path), f)
}

func suffix(errText string) string {
	if errText == "" {
		return ""
	}
	return " (" + errText + ")"
}
