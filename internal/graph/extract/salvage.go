package extract

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// objectSpans returns every balanced {...} span in text, at any depth, in the
// order the spans close. Braces inside string literals are counted like any
// other brace, so a label containing '{' or '}' can hide or split an object.
func objectSpans(text string) []string {
	var (
		starts []int
		spans  []string
	)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			starts = append(starts, i)
		case '}':
			if len(starts) == 0 {
				continue
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			spans = append(spans, text[start:i+1])
		}
	}
	return spans
}

// salvage parses each span independently and classifies it. Root-shaped
// objects are skipped since their children are visited on their own.
func salvage(ctx context.Context, text string) graph.Result {
	log := logging.FromContext(ctx)

	res := graph.Result{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
	seen := make(map[string]bool)

	for _, span := range objectSpans(text) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(span), &obj); err != nil {
			continue
		}
		if has(obj, "nodes") || has(obj, "edges") {
			continue
		}

		switch {
		case has(obj, "source") && has(obj, "target"):
			var e graph.Edge
			if err := json.Unmarshal([]byte(span), &e); err != nil {
				log.Debug("extract: salvage skipped edge", slog.Any("error", err))
				continue
			}
			res.Edges = append(res.Edges, e)
		case has(obj, "id") && has(obj, "label"):
			var n graph.Node
			if err := json.Unmarshal([]byte(span), &n); err != nil {
				log.Debug("extract: salvage skipped node", slog.Any("error", err))
				continue
			}
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			res.Nodes = append(res.Nodes, n)
		}
	}
	return res
}

func has(obj map[string]json.RawMessage, key string) bool {
	_, ok := obj[key]
	return ok
}
