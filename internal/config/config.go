// Package config provides YAML-based configuration for graphchat.
// Configuration is loaded with a layered precedence: defaults, then YAML
// file, then env vars. Environment variables always win.
//
// A .env file in the working directory is read first (it never overrides the
// process environment), then the YAML file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. GRAPHCHAT_CONFIG environment variable
//  3. ~/.graphchat/config.yaml
//  4. ./graphchat.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is the dotenv file read from the working directory.
const DotEnvFile = ".env"

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for RAG.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Neo4j configures the graph database connection.
	Neo4j Neo4jConfig `yaml:"neo4j"`

	// Redis configures the optional cross-process build lease.
	Redis RedisConfig `yaml:"redis"`

	// Graph configures graph building and viewing.
	Graph GraphConfig `yaml:"graph"`

	// Storage configures where uploaded PDFs are kept.
	Storage StorageConfig `yaml:"storage"`

	// RAG configures chat retrieval.
	RAG RAGConfig `yaml:"rag"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures conversation history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in a chat response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible server.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings for RAG.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// Neo4jConfig holds graph database settings. An empty URI selects the
// in-process graph store.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	// Password is the Neo4j password. Prefer env var NEO4J_PASSWORD.
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxPoolSize    int    `yaml:"max_pool_size"`
}

// RedisConfig holds settings for the cross-process build lease. An empty
// Addr disables the lease.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	// Password is the Redis password. Prefer env var REDIS_PASSWORD.
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	LeaseTTLSeconds int    `yaml:"lease_ttl_seconds"`
}

// GraphConfig holds graph build and view settings.
type GraphConfig struct {
	// Engine selects the default builder: simple or multi.
	Engine string `yaml:"engine"`
	// MaxNodes caps the number of entities shown in a view.
	MaxNodes int `yaml:"max_nodes"`
	// MaxEdges caps the number of relations shown in a view.
	MaxEdges int `yaml:"max_edges"`
	// Unbounded disables view reduction when no caps are configured.
	Unbounded bool `yaml:"unbounded"`
	// MaxTokens caps the extraction response length.
	MaxTokens int `yaml:"max_tokens"`
	// Concurrency bounds parallel chunk extraction in the multi engine.
	Concurrency int `yaml:"concurrency"`
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// PDFRoot is the directory holding global/ and sessions/ PDF copies.
	PDFRoot string `yaml:"pdf_root"`
}

// RAGConfig holds chat retrieval settings.
type RAGConfig struct {
	// Scope is session or global.
	Scope string `yaml:"scope"`
	TopK  int    `yaml:"top_k"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var GRAPHCHAT_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit and RateBurst shape the per-client bucket for mutating routes.
	RateLimit float32 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// BuildRateLimit and BuildRateBurst shape the separate bucket for graph
	// build and start requests.
	BuildRateLimit float32 `yaml:"build_rate_limit"`
	BuildRateBurst int     `yaml:"build_rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text, pretty.
	Format string `yaml:"format"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"NEO4J_URI", func(c *Config) string { return c.Neo4j.URI }},
	{"NEO4J_USERNAME", func(c *Config) string { return c.Neo4j.Username }},
	{"NEO4J_PASSWORD", func(c *Config) string { return c.Neo4j.Password }},
	{"NEO4J_DATABASE", func(c *Config) string { return c.Neo4j.Database }},
	{"NEO4J_TIMEOUT_SECONDS", func(c *Config) string { return intStr(c.Neo4j.TimeoutSeconds) }},
	{"NEO4J_MAX_POOL_SIZE", func(c *Config) string { return intStr(c.Neo4j.MaxPoolSize) }},
	{"REDIS_ADDR", func(c *Config) string { return c.Redis.Addr }},
	{"REDIS_PASSWORD", func(c *Config) string { return c.Redis.Password }},
	{"REDIS_DB", func(c *Config) string { return intStr(c.Redis.DB) }},
	{"GRAPHCHAT_LEASE_TTL_SECONDS", func(c *Config) string { return intStr(c.Redis.LeaseTTLSeconds) }},
	{"GRAPHCHAT_GRAPH_ENGINE", func(c *Config) string { return c.Graph.Engine }},
	{"GRAPHCHAT_GRAPH_MAX_NODES", func(c *Config) string { return intStr(c.Graph.MaxNodes) }},
	{"GRAPHCHAT_GRAPH_MAX_EDGES", func(c *Config) string { return intStr(c.Graph.MaxEdges) }},
	{"GRAPHCHAT_GRAPH_UNBOUNDED", func(c *Config) string { return boolStr(c.Graph.Unbounded) }},
	{"GRAPHCHAT_GRAPH_MAX_TOKENS", func(c *Config) string { return intStr(c.Graph.MaxTokens) }},
	{"GRAPHCHAT_GRAPH_CONCURRENCY", func(c *Config) string { return intStr(c.Graph.Concurrency) }},
	{"GRAPHCHAT_PDF_ROOT", func(c *Config) string { return c.Storage.PDFRoot }},
	{"GRAPHCHAT_RAG_SCOPE", func(c *Config) string { return c.RAG.Scope }},
	{"GRAPHCHAT_RAG_TOP_K", func(c *Config) string { return intStr(c.RAG.TopK) }},
	{"GRAPHCHAT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"GRAPHCHAT_RATE_LIMIT", func(c *Config) string { return float32Str(c.Server.RateLimit) }},
	{"GRAPHCHAT_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"GRAPHCHAT_BUILD_RATE_LIMIT", func(c *Config) string { return float32Str(c.Server.BuildRateLimit) }},
	{"GRAPHCHAT_BUILD_RATE_BURST", func(c *Config) string { return intStr(c.Server.BuildRateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"GRAPHCHAT_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv reads path (normally ".env") into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := LoadDotEnv(DotEnvFile, log); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("GRAPHCHAT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".graphchat", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("graphchat.yaml"); err == nil {
		return "graphchat.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
