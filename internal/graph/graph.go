// Package graph defines the knowledge-graph records shared by the extraction,
// storage, reduction and rendering packages.
package graph

import "fmt"

// Node is an extracted entity.
type Node struct {
	// ID is unique within a namespace.
	ID string `json:"id"`
	// Label is the human-readable description. Falls back to ID.
	Label string `json:"label"`
}

// Edge is a typed relation between two node ids.
type Edge struct {
	// Source is the id of the originating node.
	Source string `json:"source"`
	// Target is the id of the destination node.
	Target string `json:"target"`
	// Type is a free-text relation label and may be empty.
	Type string `json:"type"`
}

// Result is the unit produced by the extractor and consumed by the store
// adapter. Edges may reference ids absent from Nodes.
type Result struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Empty reports whether the result carries no graph data.
func (r Result) Empty() bool {
	return len(r.Nodes) == 0 && len(r.Edges) == 0
}

// SessionNamespace returns the store namespace for a chat session.
func SessionNamespace(sessionID string) string {
	return fmt.Sprintf("session_%s", sessionID)
}

// LabelOrID returns label when non-empty, otherwise id.
func LabelOrID(label, id string) string {
	if label != "" {
		return label
	}
	return id
}
