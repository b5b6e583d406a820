// Package ingestion implements the PDF ingestion pipeline.
// An uploaded PDF is saved to disk, attached to its session, split into
// overlapping chunks, embedded, and upserted into the vector store.
// This pipeline backs both the upload endpoint and the `graphchat ingest`
// CLI command.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/rag"
	"github.com/54b3r/graphchat-go/internal/session"
)

const (
	// DefaultChunkSize is the maximum number of characters per chunk.
	DefaultChunkSize = 2000
	// DefaultChunkOverlap is the number of characters shared by neighbouring chunks.
	DefaultChunkOverlap = 200
	// embedBatchSize bounds how many chunks go into one embedding request.
	embedBatchSize = 32
	// NoTextExtracted is reported in Stats.Error when a PDF yields no text.
	NoTextExtracted = "no_text_extracted"
)

// Stats summarises one ingested file.
type Stats struct {
	FileName   string `json:"file_name"`
	NumPages   int    `json:"num_pages"`
	NumChunks  int    `json:"num_chunks"`
	TotalChars int    `json:"total_chars"`
	Error      string `json:"error,omitempty"`
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Root is the directory PDFs are saved under. Uploads land in both
	// <Root>/global and <Root>/sessions/<id>.
	Root string

	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between
	// consecutive chunks. Defaults to DefaultChunkOverlap if zero.
	ChunkOverlap int
}

// Pipeline orchestrates the save → extract → chunk → embed → upsert flow.
type Pipeline struct {
	embedder rag.Embedder
	store    rag.VectorStore
	sessions *session.Registry
	cfg      *Config

	// extract is swapped in tests.
	extract func(ctx context.Context, data []byte) (string, int, error)
}

// DefaultRoot returns ~/.graphchat/pdfs, falling back to ./pdfs when the
// home directory cannot be resolved.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pdfs"
	}
	return filepath.Join(home, ".graphchat", "pdfs")
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, sessions *session.Registry, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("ingestion: store must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("ingestion: session registry must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Root == "" {
		cfg.Root = DefaultRoot()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		sessions: sessions,
		cfg:      cfg,
		extract:  extractPDF,
	}, nil
}

// IngestFile saves the PDF read from r, attaches it to the session, and
// indexes its text. A PDF without extractable text is still saved and
// attached; its Stats carry NoTextExtracted and no error is returned.
func (p *Pipeline) IngestFile(ctx context.Context, sessionID, name string, r io.Reader) (Stats, error) {
	if sessionID == "" || cleanName(sessionID) != sessionID {
		return Stats{}, fmt.Errorf("ingestion: invalid session id %q", sessionID)
	}
	name = cleanName(name)
	log := logging.FromContext(ctx).With(
		slog.String("session_id", sessionID),
		slog.String("file", name),
	)
	st := Stats{FileName: name}

	data, err := io.ReadAll(r)
	if err != nil {
		return st, fmt.Errorf("ingestion: read upload: %w", err)
	}

	if _, err := writeUnique(filepath.Join(p.cfg.Root, "global"), name, data); err != nil {
		return st, err
	}
	path, err := writeUnique(p.sessionDir(sessionID), name, data)
	if err != nil {
		return st, err
	}
	if err := p.sessions.AttachPDF(ctx, sessionID, path); err != nil {
		return st, fmt.Errorf("ingestion: %w", err)
	}

	text, pages, err := p.extract(ctx, data)
	if err != nil {
		return st, err
	}
	st.NumPages = pages
	st.TotalChars = utf8.RuneCountInString(text)
	if st.TotalChars == 0 {
		st.Error = NoTextExtracted
		log.Warn("ingestion: no text extracted", slog.Int("pages", pages))
		return st, nil
	}

	chunks := Chunk(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	st.NumChunks = len(chunks)
	if err := p.index(ctx, sessionID, name, path, chunks); err != nil {
		return st, err
	}

	log.Info("ingestion: file ingested",
		slog.String("path", path),
		slog.Int("pages", st.NumPages),
		slog.Int("chunks", st.NumChunks),
		slog.Int("chars", st.TotalChars),
	)
	return st, nil
}

// index embeds chunks in batches and upserts them with their provenance.
func (p *Pipeline) index(ctx context.Context, sessionID, name, path string, chunks []string) error {
	for lo := 0; lo < len(chunks); lo += embedBatchSize {
		hi := min(lo+embedBatchSize, len(chunks))
		batch := chunks[lo:hi]

		vectors, err := p.embedder.Embed(ctx, batch)
		if err != nil {
			return fmt.Errorf("ingestion: embedding failed for %s: %w", name, err)
		}

		docs := make([]rag.Document, 0, len(batch))
		for i, text := range batch {
			idx := lo + i
			docs = append(docs, rag.Document{
				ID:      chunkID(path, idx),
				Content: text,
				Source:  path,
				Metadata: map[string]string{
					rag.MetaSourcePath:   path,
					rag.MetaOriginalName: name,
					rag.MetaChunkIndex:   strconv.Itoa(idx),
					rag.MetaSessionID:    sessionID,
				},
			})
		}
		if err := p.store.Upsert(ctx, docs, vectors); err != nil {
			return fmt.Errorf("ingestion: upsert failed for %s: %w", name, err)
		}
	}
	return nil
}

// LoadText reads a stored PDF and returns its text and page count.
func (p *Pipeline) LoadText(ctx context.Context, path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	return p.extract(ctx, data)
}

// Chunks re-extracts the session's attached PDFs and returns their chunks
// in attachment order. Files that have disappeared from disk are skipped.
func (p *Pipeline) Chunks(ctx context.Context, sessionID string) ([]string, error) {
	st, err := p.sessions.Snapshot(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	var out []string
	for _, path := range st.AttachedPDFs {
		text, _, err := p.LoadText(ctx, path)
		if errors.Is(err, os.ErrNotExist) {
			logging.FromContext(ctx).Warn("ingestion: attached pdf missing", slog.String("path", path))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Chunk(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)...)
	}
	return out, nil
}

func (p *Pipeline) sessionDir(sessionID string) string {
	return filepath.Join(p.cfg.Root, "sessions", sessionID)
}

// chunkID derives a stable UUID from the stored path and chunk index, so
// re-indexing the same file overwrites its points.
func chunkID(path string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path+"#"+strconv.Itoa(index))).String()
}
