package rag

import (
	"context"
	"errors"
	"fmt"
)

// DefaultTopK is the number of chunks retrieved when the caller passes 0.
const DefaultTopK = 5

// DefaultRetriever implements Retriever by combining an Embedder and a
// VectorStore. It embeds the query at retrieval time and delegates similarity
// search to the store.
type DefaultRetriever struct {
	embedder    Embedder
	store       VectorStore
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever. defaultTopK sets the fallback
// result count when Retrieve is called with topK=0.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, errors.New("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most relevant documents.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int, f Filter) ([]Document, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, errors.New("rag: embedder returned empty result for query")
	}

	docs, err := r.store.Search(ctx, embeddings[0], topK, f)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return docs, nil
}
