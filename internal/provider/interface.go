// Package provider selects and constructs the LLM backend at runtime and
// exposes it to the rest of graphchat through the small Chatter interface.
// Supported backends: Ollama, OpenAI (and OpenAI-compatible servers), Azure
// OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API or any OpenAI-compatible server.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings. BaseURL points the client at an
// OpenAI-compatible server such as vLLM or llama.cpp.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation defaults applied to every backend.
type SharedTuning struct {
	// MaxTokens caps tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness (0.0-1.0).
	Temperature float32
}

// Config holds all provider-level configuration.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate checks that the selected backend has what it needs. Errors name
// the environment variable to set.
func (c *Config) Validate() error {
	var errs []error
	missing := func(v, env string) {
		if v == "" {
			errs = append(errs, fmt.Errorf("provider: %s is required for %s backend", env, c.Backend))
		}
	}

	switch c.Backend {
	case BackendOllama:
		missing(c.Ollama.Host, "OLLAMA_HOST")
		missing(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		missing(c.OpenAI.APIKey, "OPENAI_API_KEY")
		missing(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		missing(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		missing(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		missing(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendArk:
		missing(c.Ark.APIKey, "ARK_API_KEY")
		missing(c.Ark.Model, "ARK_MODEL")
	case BackendGemini:
		missing(c.Gemini.APIKey, "GOOGLE_API_KEY")
		missing(c.Gemini.Model, "GEMINI_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}

	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		errs = append(errs, fmt.Errorf("provider: MODEL_TEMPERATURE must be within [0, 2], got %v", c.Tuning.Temperature))
	}
	return errors.Join(errs...)
}

// ModelName returns the model or deployment in use, for logs and metrics.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	default:
		return ""
	}
}

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    Role
	Content string
}

// ChatOptions overrides generation settings for one call. Zero values keep
// the backend defaults.
type ChatOptions struct {
	MaxTokens   int
	Temperature *float32
}

// Chatter is the single LLM operation graphchat needs: send messages, get the
// assistant's text back.
type Chatter interface {
	Chat(ctx context.Context, msgs []Message, opts ChatOptions) (string, error)
}
