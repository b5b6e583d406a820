package build

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const graphSystemPrompt = `You are an assistant that extracts a simple knowledge graph from text.
Given the conversation history and text chunks from PDFs, identify the important
entities and the relationships between them.

Return the result as a single JSON object with two arrays: "nodes" and "edges".
Each node: {"id": string, "label": string}.
Each edge: {"source": string, "target": string, "type": string}.
Return only the JSON object.`

// graphTemplate renders the single-call extraction prompt.
var graphTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(graphSystemPrompt),
	schema.UserMessage("Conversation history:\n{{.history}}\n\nPDF content (concatenated chunks):\n{{.pdf}}"),
)

const chunkSystemPrompt = `You extract entities and relationships from one passage of a larger document.
Document: {{.document}}

Identify every meaningful entity (person, organization, location, concept, product,
event, date) with a short description drawn from the passage, then every
relationship between two of those entities.

Answer with a single JSON object that validates against this JSON schema:
{{.schema}}
Return only the JSON object.`

// chunkTemplate renders the per-chunk engine prompt.
var chunkTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(chunkSystemPrompt),
	schema.UserMessage("{{.text}}"),
)
