package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG checks that the embedder configuration is usable before
// any PDF is ingested. It returns an error if the configuration is clearly
// broken (e.g. azure embedder with no API key), and logs a warning if
// EMBEDDING_MODEL looks like a chat model rather than an embedding model.
//
// Call it before constructing the embedder or the vector store so operators
// get a clear error at startup rather than a cryptic failure during the first
// upload.
func ValidateForRAG(log *slog.Logger) error {
	backend := Backend()

	// An inherited chat backend is often not what the operator meant.
	if backend != "ollama" && os.Getenv("EMBEDDING_PROVIDER") == "" {
		log.Warn("embedder: EMBEDDING_PROVIDER is not set, inheriting MODEL_PROVIDER as embedding backend",
			slog.String("backend", backend),
			slog.String("hint", "set EMBEDDING_PROVIDER=ollama (or openai/azure) to be explicit"),
		)
	}

	switch backend {
	case "openai":
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY") == "" &&
			firstEnv("EMBEDDING_ENDPOINT", "OPENAI_BASE_URL", "LLM_BASE_URL") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}

	case "azure":
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Azure API key found; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}

	case "ark", "gemini":
		return fmt.Errorf("embedder: %s has no embedding support; set EMBEDDING_PROVIDER to ollama, openai, or azure", backend)
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	return nil
}
