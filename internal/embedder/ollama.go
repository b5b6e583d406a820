package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder implements rag.Embedder using the Ollama embed API.
// It is safe for concurrent use. No API key is required; Ollama runs locally.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Timeout bounds a single embed call. Defaults to 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) (*OllamaEmbedder, error) {
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: parse host %q: %w", cfg.Host, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		client: api.NewClient(u, &http.Client{Timeout: timeout}),
		model:  cfg.Model,
	}, nil
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	res, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embedder: expected %d embeddings, got %d", len(texts), len(res.Embeddings))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, vec := range res.Embeddings {
		out[i] = make([]float32, len(vec))
		for j, v := range vec {
			out[i][j] = float32(v)
		}
	}
	return out, nil
}

// Ping checks that the Ollama server answers.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama embedder: heartbeat: %w", err)
	}
	return nil
}
