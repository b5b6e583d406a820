// Package build turns a chat session into a stored, rendered knowledge graph.
//
// Two builders are provided. Builder makes a single model call over the whole
// session and replaces the session's namespace with the parsed result.
// EngineBuilder feeds each attached document and the chat history through an
// Engine that extracts per chunk and merges into a workspace graph, then
// reduces the stored graph to a size that can be rendered.
package build

import (
	"context"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/session"
)

// Output is what a build hands back to the presentation layer. Summary is
// always set so there is something to show even on failure.
type Output struct {
	Summary       string       `json:"summary"`
	HTML          string       `json:"html,omitempty"`
	Nodes         []graph.Node `json:"nodes"`
	Edges         []graph.Edge `json:"edges"`
	Partial       bool         `json:"partial,omitempty"`
	Failed        bool         `json:"failed,omitempty"`
	Raw           string       `json:"raw,omitempty"`
	TotalEntities int          `json:"total_entities"`
	TotalEdges    int          `json:"total_edges"`
}

// SessionBuilder builds the graph for one session.
type SessionBuilder interface {
	Build(ctx context.Context, sess session.State) (*Output, error)
}

// ChunkSource returns the text chunks of the PDFs attached to a session.
type ChunkSource interface {
	Chunks(ctx context.Context, sessionID string) ([]string, error)
}

// DocumentLoader reads a stored PDF as plain text.
type DocumentLoader interface {
	LoadText(ctx context.Context, path string) (text string, pages int, err error)
}

// emptySummary is returned when a session has neither history nor documents.
const emptySummary = "not enough data to build a graph: no conversation and no PDFs"
