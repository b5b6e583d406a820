// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Ollama is reached through its
// Go API client; OpenAI, Azure OpenAI and OpenAI-compatible servers through
// the official openai-go SDK.
package embedder

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. Empty uses the SDK default. For Azure this
	// is the resource endpoint, e.g. "https://<resource>.openai.azure.com".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name, or the deployment name on Azure.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	var opts []option.RequestOption
	if cfg.Azure {
		opts = append(opts,
			azure.WithEndpoint(cfg.BaseURL, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", idx, len(texts))
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[idx] = vec
	}
	return embeddings, nil
}
