package provider

import (
	"context"
	"fmt"
	"strings"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// newOllama constructs a chat model backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	m, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: cfg.Ollama.Host,
		Model:   cfg.Ollama.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama: %w", err)
	}
	return m, nil
}

// newOpenAI constructs a chat model backed by OpenAI or a compatible server.
func newOpenAI(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	maxTokens := cfg.Tuning.MaxTokens
	temp := cfg.Tuning.Temperature
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.OpenAI.Model,
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai: %w", err)
	}
	return m, nil
}

// isAzureReasoningModel reports whether the deployment name looks like an
// o-series or codex model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}

// newAzure constructs a chat model backed by Azure OpenAI Service.
func newAzure(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	mc := &einoopenai.ChatModelConfig{
		Model:      cfg.AzureOpenAI.Deployment,
		APIKey:     cfg.AzureOpenAI.APIKey,
		BaseURL:    cfg.AzureOpenAI.Endpoint,
		ByAzure:    true,
		APIVersion: cfg.AzureOpenAI.APIVersion,
		// The default mapper strips dots and colons, which breaks deployment
		// names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	}
	if !isAzureReasoningModel(cfg.AzureOpenAI.Deployment) {
		maxTokens := cfg.Tuning.MaxTokens
		temp := cfg.Tuning.Temperature
		mc.MaxTokens = &maxTokens
		mc.Temperature = &temp
	}
	m, err := einoopenai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("provider: azure: %w", err)
	}
	return m, nil
}

// newArk constructs a chat model backed by Volcengine Ark.
func newArk(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	maxTokens := cfg.Tuning.MaxTokens
	temp := cfg.Tuning.Temperature
	m, err := einoark.NewChatModel(ctx, &einoark.ChatModelConfig{
		Model:       cfg.Ark.Model,
		APIKey:      cfg.Ark.APIKey,
		BaseURL:     cfg.Ark.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ark: %w", err)
	}
	return m, nil
}

// newGemini constructs a chat model backed by Google Gemini (AI Studio).
func newGemini(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: failed to create Gemini client: %w", err)
	}
	m, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Gemini.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini: %w", err)
	}
	return m, nil
}
