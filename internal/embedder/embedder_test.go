package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		vecs := make([][]float32, len(req.Input))
		for i := range req.Input {
			vecs[i] = []float32{float32(i), 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": vecs})
	}))
	t.Cleanup(srv.Close)

	emb, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("NewOllamaEmbedder: %v", err)
	}
	got, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotModel != "nomic-embed-text" {
		t.Errorf("want model nomic-embed-text, got %q", gotModel)
	}
	if len(got) != 2 || got[1][0] != 1 {
		t.Errorf("unexpected embeddings: %v", got)
	}
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m",
			"data":[
				{"object":"embedding","index":1,"embedding":[0.5,0.5]},
				{"object":"embedding","index":0,"embedding":[0.1,0.2]}
			],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "test", Model: "m"})
	got, err := emb.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 vectors, got %d", len(got))
	}
	if got[0][0] != float32(0.1) || got[1][0] != float32(0.5) {
		t.Errorf("want vectors placed by index, got %v", got)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	t.Parallel()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: "http://127.0.0.1:1/", APIKey: "x", Model: "m"})
	got, err := emb.Embed(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("want nil, nil for empty input, got %v, %v", got, err)
	}
}

// ---------------------------------------------------------------------------
// Factory and validation. These mutate the environment, so no t.Parallel.
// ---------------------------------------------------------------------------

func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"EMBEDDING_ENDPOINT", "EMBEDDING_DIMENSIONS", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"LLM_API_KEY", "LLM_BASE_URL", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestNewFromEnv_DefaultsToOllama(t *testing.T) {
	clearEmbeddingEnv(t)

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if _, ok := emb.(*OllamaEmbedder); !ok {
		t.Errorf("want *OllamaEmbedder, got %T", emb)
	}
}

func TestNewFromEnv_InheritsModelProvider(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if _, ok := emb.(*OpenAIEmbedder); !ok {
		t.Errorf("want *OpenAIEmbedder, got %T", emb)
	}
}

func TestNewFromEnv_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"azure missing key", map[string]string{"EMBEDDING_PROVIDER": "azure"}, "AZURE_OPENAI_API_KEY"},
		{"azure missing endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, "AZURE_OPENAI_ENDPOINT"},
		{"ark unsupported", map[string]string{"MODEL_PROVIDER": "ark"}, "no embedding support"},
		{"unknown", map[string]string{"EMBEDDING_PROVIDER": "cohere"}, "unknown backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	clearEmbeddingEnv(t)
	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("ollama: want 768, got %d", got)
	}
	if got := DefaultDimensions("azure"); got != 1536 {
		t.Errorf("azure: want 1536, got %d", got)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "1024")
	if got := DefaultDimensions("ollama"); got != 1024 {
		t.Errorf("override: want 1024, got %d", got)
	}
}

func TestValidateForRAG_WarnsOnChatModel(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_MODEL", "llama3.1")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	if err := ValidateForRAG(log); err != nil {
		t.Fatalf("ValidateForRAG: %v", err)
	}
	if !strings.Contains(buf.String(), "looks like a chat model") {
		t.Errorf("want chat-model warning, got %q", buf.String())
	}
}

func TestValidateForRAG_OpenAIWithoutKey(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "openai")

	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if err := ValidateForRAG(log); err == nil {
		t.Error("want error for openai without key or endpoint")
	}
}
