package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/graph/graphstore"
	"github.com/54b3r/graphchat-go/internal/ingestion"
	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/provider"
)

const (
	// DefaultEngineChunkChars is the passage size sent per extraction call.
	DefaultEngineChunkChars = 4000
	// DefaultEngineChunkOverlap is the overlap between passages.
	DefaultEngineChunkOverlap = 400
	// DefaultEngineConcurrency bounds in-flight model calls per document.
	DefaultEngineConcurrency = 4
	// DefaultEngineMaxTokens is the response budget per passage.
	DefaultEngineMaxTokens = 2048
)

type chunkEntity struct {
	Name        string `json:"entity_name" jsonschema_description:"Name of the entity as it appears in the passage"`
	Type        string `json:"entity_type" jsonschema_description:"Kind of entity, e.g. PERSON, ORGANIZATION, CONCEPT"`
	Description string `json:"entity_description" jsonschema_description:"Short description of the entity based on the passage"`
}

type chunkRelation struct {
	Source      string `json:"source_entity" jsonschema_description:"Name of the source entity"`
	Target      string `json:"target_entity" jsonschema_description:"Name of the target entity"`
	Description string `json:"relationship_description" jsonschema_description:"How the source entity relates to the target entity"`
	Keywords    string `json:"relationship_keywords" jsonschema_description:"Comma separated keywords summarising the relationship"`
}

type chunkAnswer struct {
	Entities      []chunkEntity   `json:"entities" jsonschema_description:"Entities found in the passage"`
	Relationships []chunkRelation `json:"relationships" jsonschema_description:"Relationships between the entities"`
}

// answerSchema renders the JSON schema of chunkAnswer for the prompt.
func answerSchema() (string, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	b, err := json.Marshal(r.Reflect(&chunkAnswer{}))
	if err != nil {
		return "", fmt.Errorf("build: marshal answer schema: %w", err)
	}
	return string(b), nil
}

// Doc is one document fed to the Engine.
type Doc struct {
	ID   string
	Text string
}

// InsertStats reports what one Insert merged.
type InsertStats struct {
	Chunks       int
	FailedChunks int
	Entities     int
	Relations    int
	SkippedLinks int
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	LLM          provider.Chatter
	Store        graphstore.DocumentStore
	ChunkChars   int
	ChunkOverlap int
	Concurrency  int
	MaxTokens    int
	Temperature  *float32
}

// Engine maintains a workspace graph built up one document at a time.
// Entities are keyed by name, so the same entity mentioned in several
// documents is merged into one node.
type Engine struct {
	cfg    EngineConfig
	schema string
}

// NewEngine validates cfg and applies defaults.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, errors.New("build: LLM must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("build: graph store must not be nil")
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = DefaultEngineChunkChars
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkChars {
		cfg.ChunkOverlap = cfg.ChunkChars / 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultEngineConcurrency
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultEngineMaxTokens
	}
	s, err := answerSchema()
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, schema: s}, nil
}

// Insert extracts entities and relations from doc and merges them into ws.
// Passages are extracted concurrently; merging is sequential in passage
// order. A passage whose answer cannot be parsed is skipped. A model or store
// error aborts the insert.
func (e *Engine) Insert(ctx context.Context, ws string, doc Doc) (InsertStats, error) {
	log := logging.FromContext(ctx).With(slog.String("workspace", ws), slog.String("doc_id", doc.ID))

	chunks := ingestion.Chunk(doc.Text, e.cfg.ChunkChars, e.cfg.ChunkOverlap)
	st := InsertStats{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return st, nil
	}

	answers := make([]*chunkAnswer, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, text := range chunks {
		g.Go(func() error {
			ans, err := e.extractChunk(gctx, doc.ID, text)
			if err != nil {
				return fmt.Errorf("build: extract %s chunk %d: %w", doc.ID, i, err)
			}
			answers[i] = ans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	for i, ans := range answers {
		if ans == nil {
			st.FailedChunks++
			log.Warn("build: chunk answer skipped", slog.Int("chunk", i))
			continue
		}
		if err := e.merge(ctx, ws, doc.ID, ans, &st); err != nil {
			return st, err
		}
	}

	log.Info("build: document inserted",
		slog.Int("chunks", st.Chunks),
		slog.Int("failed_chunks", st.FailedChunks),
		slog.Int("entities", st.Entities),
		slog.Int("relations", st.Relations),
	)
	return st, nil
}

// Delete removes everything only doc contributed to ws.
func (e *Engine) Delete(ctx context.Context, ws, docID string) error {
	if err := e.cfg.Store.DeleteDocument(ctx, ws, docID); err != nil {
		return fmt.Errorf("build: delete %s: %w", docID, err)
	}
	return nil
}

// extractChunk asks the model about one passage. A nil answer with a nil
// error means the reply could not be parsed.
func (e *Engine) extractChunk(ctx context.Context, docID, text string) (*chunkAnswer, error) {
	msgs, err := chunkTemplate.Format(ctx, map[string]any{
		"document": docID,
		"schema":   e.schema,
		"text":     text,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	raw, err := e.cfg.LLM.Chat(ctx, provider.FromSchema(msgs), provider.ChatOptions{
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var ans chunkAnswer
	if err := decodeFlexible(raw, &ans); err != nil {
		logging.FromContext(ctx).Warn("build: unparseable chunk answer",
			slog.String("doc_id", docID),
			slog.Any("error", err),
		)
		return nil, nil
	}
	return &ans, nil
}

// merge writes one passage's answer. Relation endpoints missing from the
// entity list are created without a description.
func (e *Engine) merge(ctx context.Context, ws, docID string, ans *chunkAnswer, st *InsertStats) error {
	s := e.cfg.Store
	for _, ent := range ans.Entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		if err := s.MergeEntity(ctx, ws, name, strings.TrimSpace(ent.Description), docID); err != nil {
			return fmt.Errorf("build: merge entity %q: %w", name, err)
		}
		st.Entities++
	}
	for _, rel := range ans.Relationships {
		src, tgt := strings.TrimSpace(rel.Source), strings.TrimSpace(rel.Target)
		if src == "" || tgt == "" || src == tgt {
			continue
		}
		for _, id := range []string{src, tgt} {
			if err := s.MergeEntity(ctx, ws, id, "", docID); err != nil {
				return fmt.Errorf("build: merge entity %q: %w", id, err)
			}
		}
		edge := graph.Edge{Source: src, Target: tgt, Type: relationType(rel)}
		ok, err := s.MergeRelation(ctx, ws, edge, docID)
		if err != nil {
			return fmt.Errorf("build: merge relation %q->%q: %w", src, tgt, err)
		}
		if !ok {
			st.SkippedLinks++
			continue
		}
		st.Relations++
	}
	return nil
}

// relationType prefers the description, then the keywords.
func relationType(rel chunkRelation) string {
	if d := strings.TrimSpace(rel.Description); d != "" {
		return d
	}
	return strings.TrimSpace(rel.Keywords)
}

// decodeFlexible parses a model answer into out. It tries the first '{' to
// last '}' span as-is, then a double-encoded string, then a jsonrepair pass.
func decodeFlexible(raw string, out any) error {
	input := strings.TrimSpace(raw)
	if i, j := strings.Index(input, "{"), strings.LastIndex(input, "}"); i >= 0 && j > i {
		input = input[i : j+1]
	}
	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &asString); err == nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(asString)), out); err == nil {
			return nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal after repair: %w", err)
	}
	return nil
}
