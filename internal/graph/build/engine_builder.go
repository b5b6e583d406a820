package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
	"github.com/54b3r/graphchat-go/internal/graph/reduce"
	"github.com/54b3r/graphchat-go/internal/graph/render"
	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/session"
)

// ChatDocID is the engine document id holding a session's conversation.
func ChatDocID(sessionID string) string {
	return "chat_" + sessionID
}

// EngineBuilderConfig wires an EngineBuilder.
type EngineBuilderConfig struct {
	Engine *Engine
	Store  graphstore.Store
	Loader DocumentLoader
	Limits reduce.Limits
	Render render.Options
}

// EngineBuilder builds a session graph through the multi-document Engine.
type EngineBuilder struct {
	cfg EngineBuilderConfig
}

// NewEngineBuilder validates cfg.
func NewEngineBuilder(cfg EngineBuilderConfig) (*EngineBuilder, error) {
	if cfg.Engine == nil {
		return nil, errors.New("build: engine must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("build: graph store must not be nil")
	}
	if cfg.Loader == nil {
		return nil, errors.New("build: document loader must not be nil")
	}
	return &EngineBuilder{cfg: cfg}, nil
}

// Build inserts every attached PDF, then the chat history, one document at a
// time, and returns a reduced view of the resulting workspace graph.
func (b *EngineBuilder) Build(ctx context.Context, sess session.State) (*Output, error) {
	ws := graph.SessionNamespace(sess.ID)
	log := logging.FromContext(ctx).With(slog.String("workspace", ws))

	var pdfs []string
	for _, p := range sess.AttachedPDFs {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			pdfs = append(pdfs, p)
		}
	}
	history := strings.TrimSpace(sess.HistoryText())
	if len(pdfs) == 0 && history == "" {
		return &Output{Summary: emptySummary}, nil
	}

	for _, p := range pdfs {
		text, pages, err := b.cfg.Loader.LoadText(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("build: read %s: %w", p, err)
		}
		if strings.TrimSpace(text) == "" {
			log.Warn("build: no text extracted, skipping document", slog.String("path", p))
			continue
		}
		log.Info("build: inserting document",
			slog.String("path", p),
			slog.Int("pages", pages),
			slog.Int("chars", len(text)),
		)
		if _, err := b.cfg.Engine.Insert(ctx, ws, Doc{ID: filepath.Base(p), Text: text}); err != nil {
			return nil, err
		}
	}

	if history != "" {
		docID := ChatDocID(sess.ID)
		// Stale history is better than none, so a failed delete is not fatal.
		if err := b.cfg.Engine.Delete(ctx, ws, docID); err != nil {
			log.Warn("build: could not delete previous chat history", slog.Any("error", err))
		}
		if _, err := b.cfg.Engine.Insert(ctx, ws, Doc{ID: docID, Text: history}); err != nil {
			return nil, err
		}
	}

	return View(ctx, b.cfg.Store, ws, b.cfg.Limits, b.cfg.Render)
}

// View renders the stored graph for ws, reduced to lim.
func View(ctx context.Context, s graphstore.Store, ws string, lim reduce.Limits, opts render.Options) (*Output, error) {
	v, err := reduce.FromStore(ctx, s, ws, lim)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	out := &Output{
		Nodes:         v.Nodes,
		Edges:         v.Edges,
		TotalEntities: v.TotalEntities,
		TotalEdges:    v.TotalEdges,
	}
	if len(v.Nodes) == 0 {
		out.Summary = "no graph data extracted yet"
		return out, nil
	}

	out.Summary = fmt.Sprintf("Entities: %d, relations: %d", v.TotalEntities, v.TotalEdges)
	switch {
	case v.Reduced():
		out.Summary += fmt.Sprintf(" (showing %d of %d)", len(v.Nodes), v.TotalEntities)
	case len(v.Edges) < v.TotalEdges:
		out.Summary += fmt.Sprintf(" (showing %d of %d relations)", len(v.Edges), v.TotalEdges)
	}
	out.HTML = renderOrWarn(ctx, v.Nodes, v.Edges, opts)
	return out, nil
}
