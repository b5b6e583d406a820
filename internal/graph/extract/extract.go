// Package extract turns a raw language-model response that was asked to
// contain a single {"nodes": [...], "edges": [...]} object into a best-effort
// graph.Result.
//
// Model output is frequently fenced, truncated or otherwise malformed, so
// Parse walks a cascade of increasingly permissive strategies and stops at
// the first one that succeeds:
//
//  1. strip a ``` code fence (with or without a language tag)
//  2. take the span from the first '{' to the last '}'
//  3. parse it directly
//  4. trim trailing characters back to a closing bracket and retry
//  5. salvage every balanced {...} object that parses on its own
//  6. give up and hand back the raw text
//
// Parse never returns an error. Data-quality problems are logged and turned
// into a partial or failed Outcome the caller can show to a user.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// MaxTrim bounds the number of trailing characters the repair stage removes.
const MaxTrim = 200

// Strategy names the cascade stage that produced an Outcome.
type Strategy string

const (
	// StrategyDirect means the bracket span parsed as-is.
	StrategyDirect Strategy = "direct"
	// StrategyRepair means the span parsed after trailing truncation.
	StrategyRepair Strategy = "repair"
	// StrategySalvage means individual objects were recovered from the text.
	StrategySalvage Strategy = "salvage"
	// StrategyNone means nothing could be recovered.
	StrategyNone Strategy = "none"
)

// Outcome is the result of Parse.
type Outcome struct {
	// Result holds the recovered graph. Empty when Failed is true.
	Result graph.Result
	// Strategy is the stage that produced Result.
	Strategy Strategy
	// Partial is true when Result came from object salvage.
	Partial bool
	// Failed is true when no graph data could be recovered.
	Failed bool
	// Raw is the original model output, set only when Failed is true.
	Raw string
	// Message is a human-readable note for partial and failed outcomes.
	Message string
}

// payload is the expected top-level document shape.
type payload struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

var errNotObject = errors.New("extract: top-level value is not an object")

// Parse runs the extraction cascade over raw.
func Parse(ctx context.Context, raw string) Outcome {
	log := logging.FromContext(ctx)

	candidate := bracketSpan(stripFence(raw), raw)

	res, err := decode(candidate)
	if err == nil {
		log.Info("extract: parsed model output",
			slog.String("strategy", string(StrategyDirect)),
			slog.Int("nodes", len(res.Nodes)),
			slog.Int("edges", len(res.Edges)),
		)
		return Outcome{Result: res, Strategy: StrategyDirect}
	}
	log.Warn("extract: direct parse failed", slog.Any("error", err))

	if res, ok := repairTrailing(candidate); ok {
		log.Info("extract: parsed model output",
			slog.String("strategy", string(StrategyRepair)),
			slog.Int("nodes", len(res.Nodes)),
			slog.Int("edges", len(res.Edges)),
		)
		return Outcome{Result: res, Strategy: StrategyRepair}
	}
	log.Warn("extract: trailing repair failed", slog.Int("max_trim", MaxTrim))

	res = salvage(ctx, raw)
	if !res.Empty() {
		msg := fmt.Sprintf("graph partially recovered: %d nodes, %d edges", len(res.Nodes), len(res.Edges))
		log.Info("extract: parsed model output",
			slog.String("strategy", string(StrategySalvage)),
			slog.Int("nodes", len(res.Nodes)),
			slog.Int("edges", len(res.Edges)),
		)
		return Outcome{Result: res, Strategy: StrategySalvage, Partial: true, Message: msg}
	}

	log.Warn("extract: no graph data recovered", slog.Int("raw_chars", len(raw)))
	return Outcome{
		Result:   graph.Result{Nodes: []graph.Node{}, Edges: []graph.Edge{}},
		Strategy: StrategyNone,
		Failed:   true,
		Raw:      raw,
		Message:  "could not parse graph from model output",
	}
}

// stripFence removes a surrounding ``` block. The opening fence line may carry
// a language tag. Text without a leading fence is returned trimmed.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// bracketSpan returns text from the first '{' through the last '}'. When no
// such pair exists the original raw text is returned.
func bracketSpan(text, raw string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return raw
	}
	return text[start : end+1]
}

// decode parses s as the expected document. Absent keys become empty slices.
func decode(s string) (graph.Result, error) {
	var p *payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return graph.Result{}, fmt.Errorf("extract: decode: %w", err)
	}
	if p == nil {
		return graph.Result{}, errNotObject
	}
	res := graph.Result{Nodes: p.Nodes, Edges: p.Edges}
	if res.Nodes == nil {
		res.Nodes = []graph.Node{}
	}
	if res.Edges == nil {
		res.Edges = []graph.Edge{}
	}
	return res, nil
}

// repairTrailing drops one trailing character at a time, then cuts back to
// the last '}' or ']' and retries the parse. At most MaxTrim rounds run.
func repairTrailing(candidate string) (graph.Result, bool) {
	s := candidate
	for range MaxTrim {
		if len(s) == 0 {
			break
		}
		s = s[:len(s)-1]
		cut := strings.LastIndexAny(s, "}]")
		if cut < 0 {
			break
		}
		s = s[:cut+1]
		if res, err := decode(s); err == nil {
			return res, true
		}
	}
	return graph.Result{}, false
}
