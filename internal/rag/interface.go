// Package rag defines the interfaces for retrieval-augmented generation
// components: vector storage, document retrieval, and embedding.
// Concrete implementations (Qdrant, in-memory) satisfy these interfaces so the
// chat and ingestion layers never depend on a specific backend.
package rag

import (
	"context"
)

// Metadata keys written by the ingestion pipeline for every stored chunk.
const (
	MetaSessionID    = "session_id"
	MetaSourcePath   = "source_path"
	MetaOriginalName = "original_name"
	MetaChunkIndex   = "chunk_index"
)

// Document represents a unit of retrieved or stored knowledge.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the file path the chunk was extracted from.
	Source string

	// Metadata holds arbitrary key-value pairs (session id, chunk index, etc.).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Filter narrows a search. The zero value matches every document.
type Filter struct {
	// SessionID restricts results to chunks ingested for one session.
	SessionID string
}

// VectorStore is the interface for persisting and searching document embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. vectors[i] is the embedding for docs[i].
	Upsert(ctx context.Context, docs []Document, vectors [][]float32) error

	// Search returns the top-k documents most similar to vec that match f.
	Search(ctx context.Context, vec []float32, topK int, f Filter) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface used by the chat pipeline to fetch
// relevant context for a query. It combines embedding and vector search.
type Retriever interface {
	// Retrieve returns the top-k most relevant documents matching f.
	Retrieve(ctx context.Context, query string, topK int, f Filter) ([]Document, error)
}
