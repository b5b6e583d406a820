package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/graphchat-go/internal/budget"
	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/extract"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
	"github.com/54b3r/graphchat-go/internal/graph/render"
	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/provider"
	"github.com/54b3r/graphchat-go/internal/session"
)

const (
	// DefaultMaxTokens is the response budget for the extraction call.
	DefaultMaxTokens = 1024
	// DefaultPDFTokenBudget caps the PDF text sent in one prompt.
	DefaultPDFTokenBudget = 4000

	chunkSeparator = "\n\n---\n\n"
)

// BuilderConfig wires a Builder.
type BuilderConfig struct {
	LLM   provider.Chatter
	Store graphstore.Store
	// Chunks supplies PDF text. Nil builds from the conversation only.
	Chunks ChunkSource
	// MaxTokens is the response budget. Defaults to DefaultMaxTokens.
	MaxTokens   int
	Temperature *float32
	// PDFTokenBudget caps the PDF portion of the prompt. Defaults to
	// DefaultPDFTokenBudget.
	PDFTokenBudget int
	Render         render.Options
}

// Builder extracts a graph with one model call and replaces the session's
// namespace with it.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder validates cfg and applies defaults.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.LLM == nil {
		return nil, errors.New("build: LLM must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("build: graph store must not be nil")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.PDFTokenBudget <= 0 {
		cfg.PDFTokenBudget = DefaultPDFTokenBudget
	}
	return &Builder{cfg: cfg}, nil
}

// Build runs one extraction for sess. Malformed model output is reported in
// the Output; store and model failures are returned as errors.
func (b *Builder) Build(ctx context.Context, sess session.State) (*Output, error) {
	log := logging.FromContext(ctx).With(slog.String("session_id", sess.ID))
	ns := graph.SessionNamespace(sess.ID)

	var chunks []string
	if b.cfg.Chunks != nil {
		var err error
		chunks, err = b.cfg.Chunks.Chunks(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("build: load pdf chunks: %w", err)
		}
	}

	history := sess.HistoryText()
	if strings.TrimSpace(history) == "" && len(chunks) == 0 {
		return &Output{Summary: emptySummary}, nil
	}

	pdfText, cut := budget.TrimText(strings.Join(chunks, chunkSeparator), b.cfg.PDFTokenBudget)
	if cut {
		log.Info("build: pdf text trimmed to budget", slog.Int("budget_tokens", b.cfg.PDFTokenBudget))
	}

	msgs, err := graphTemplate.Format(ctx, map[string]any{
		"history": history,
		"pdf":     pdfText,
	})
	if err != nil {
		return nil, fmt.Errorf("build: format prompt: %w", err)
	}

	raw, err := b.cfg.LLM.Chat(ctx, provider.FromSchema(msgs), provider.ChatOptions{
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("build: model call: %w", err)
	}

	parsed := extract.Parse(ctx, raw)
	if parsed.Failed {
		return &Output{
			Summary: parsed.Message + ". Model response:\n\n" + raw,
			Failed:  true,
			Raw:     raw,
		}, nil
	}

	if _, err := graphstore.Replace(ctx, b.cfg.Store, ns, parsed.Result); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	nodes, edges := linked(parsed.Result)
	out := &Output{
		Nodes:         nodes,
		Edges:         edges,
		Partial:       parsed.Partial,
		TotalEntities: len(nodes),
		TotalEdges:    len(edges),
	}
	if parsed.Partial {
		out.Summary = parsed.Message
	} else {
		out.Summary = fmt.Sprintf("graph built: %d nodes, %d edges", len(nodes), len(edges))
	}

	out.HTML = renderOrWarn(ctx, nodes, edges, b.cfg.Render)
	return out, nil
}

// linked returns the unique nodes and the edges whose endpoints are both
// among them, matching what Replace persists.
func linked(res graph.Result) ([]graph.Node, []graph.Edge) {
	seen := make(map[string]bool, len(res.Nodes))
	nodes := make([]graph.Node, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		nodes = append(nodes, graph.Node{ID: n.ID, Label: graph.LabelOrID(n.Label, n.ID)})
	}
	edges := make([]graph.Edge, 0, len(res.Edges))
	for _, e := range res.Edges {
		if seen[e.Source] && seen[e.Target] {
			edges = append(edges, e)
		}
	}
	return nodes, edges
}

// renderOrWarn renders the page. A rendering failure never fails the build.
func renderOrWarn(ctx context.Context, nodes []graph.Node, edges []graph.Edge, opts render.Options) string {
	html, err := render.HTML(nodes, edges, opts)
	if err != nil {
		logging.FromContext(ctx).Warn("build: render failed", slog.Any("error", err))
		return ""
	}
	return html
}
