// Package render turns nodes and edges into a self-contained interactive HTML
// page backed by vis-network.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/54b3r/graphchat-go/internal/graph"
)

// DefaultScriptURL is the vis-network bundle loaded by the page.
const DefaultScriptURL = "https://unpkg.com/vis-network/standalone/umd/vis-network.min.js"

// Options controls page layout.
type Options struct {
	// Title is the document title. Defaults to "Knowledge graph".
	Title string
	// Height is a CSS height. Defaults to "600px".
	Height string
	// Width is a CSS width. Defaults to "100%".
	Width string
	// ScriptURL overrides DefaultScriptURL.
	ScriptURL string
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "Knowledge graph"
	}
	if o.Height == "" {
		o.Height = "600px"
	}
	if o.Width == "" {
		o.Width = "100%"
	}
	if o.ScriptURL == "" {
		o.ScriptURL = DefaultScriptURL
	}
	return o
}

type visNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Title string `json:"title"`
}

type visEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Label  string `json:"label,omitempty"`
	Arrows string `json:"arrows"`
}

var page = template.Must(template.New("graph").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.ScriptURL}}"></script>
<style>#graph { height: {{.Height}}; width: {{.Width}}; border: 1px solid #ddd; }</style>
</head>
<body>
<div id="graph"></div>
<script>
const nodes = new vis.DataSet({{.Nodes}});
const edges = new vis.DataSet({{.Edges}});
const options = {
  physics: { solver: "barnesHut", barnesHut: { gravitationalConstant: -8000, springLength: 120 } },
  edges: { arrows: { to: { enabled: true } }, font: { align: "middle" } },
  nodes: { shape: "dot", size: 12 }
};
new vis.Network(document.getElementById("graph"), { nodes: nodes, edges: edges }, options);
</script>
</body>
</html>
`))

type pageData struct {
	Title     string
	ScriptURL string
	Height    template.CSS
	Width     template.CSS
	Nodes     []visNode
	Edges     []visEdge
}

// HTML renders the page. Labels fall back to ids.
func HTML(nodes []graph.Node, edges []graph.Edge, opts Options) (string, error) {
	opts = opts.withDefaults()

	data := pageData{
		Title:     opts.Title,
		ScriptURL: opts.ScriptURL,
		Height:    template.CSS(opts.Height),
		Width:     template.CSS(opts.Width),
		Nodes:     make([]visNode, 0, len(nodes)),
		Edges:     make([]visEdge, 0, len(edges)),
	}
	for _, n := range nodes {
		label := graph.LabelOrID(n.Label, n.ID)
		data.Nodes = append(data.Nodes, visNode{ID: n.ID, Label: label, Title: label})
	}
	for _, e := range edges {
		data.Edges = append(data.Edges, visEdge{From: e.Source, To: e.Target, Label: e.Type, Arrows: "to"})
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute template: %w", err)
	}
	return buf.String(), nil
}

// JSON returns the vis-network datasets without the page wrapper.
func JSON(nodes []graph.Node, edges []graph.Edge) ([]byte, error) {
	type payload struct {
		Nodes []visNode `json:"nodes"`
		Edges []visEdge `json:"edges"`
	}
	p := payload{Nodes: make([]visNode, 0, len(nodes)), Edges: make([]visEdge, 0, len(edges))}
	for _, n := range nodes {
		label := graph.LabelOrID(n.Label, n.ID)
		p.Nodes = append(p.Nodes, visNode{ID: n.ID, Label: label, Title: label})
	}
	for _, e := range edges {
		p.Edges = append(p.Edges, visEdge{From: e.Source, To: e.Target, Label: e.Type, Arrows: "to"})
	}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("render: marshal: %w", err)
	}
	return out, nil
}
