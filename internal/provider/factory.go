package provider

import (
	"context"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv resolves provider configuration from environment variables.
// MODEL_PROVIDER selects the backend; each provider reads its own native
// credential variables.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | ark | gemini (default: ollama)
//
//	Ollama: OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3.1)
//	OpenAI: OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini), OPENAI_BASE_URL
//	        (LLM_API_KEY, LLM_MODEL_NAME and LLM_BASE_URL are accepted as fallbacks)
//	Azure:  AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	        AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:    ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	Gemini: GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-pro)
//
//	Shared: MODEL_MAX_TOKENS (default: 512), MODEL_TEMPERATURE (default: 0.2)
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3.1"),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  firstEnv("OPENAI_API_KEY", "LLM_API_KEY"),
			Model:   getEnvOrDefault("OPENAI_MODEL", getEnvOrDefault("LLM_MODEL_NAME", "gpt-4o-mini")),
			BaseURL: firstEnv("OPENAI_BASE_URL", "LLM_BASE_URL"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			Model:   os.Getenv("ARK_MODEL"),
			BaseURL: os.Getenv("ARK_BASE_URL"),
		},
		Gemini: ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		},
		Tuning: SharedTuning{
			MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", getEnvInt("LLM_MAX_OUTPUT_TOKENS", 512)),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
		},
	}
}

// NewFromEnv constructs a chat model from environment configuration.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New validates cfg and constructs the selected backend, so callers get a
// clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	default:
		return newGemini(ctx, cfg)
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
