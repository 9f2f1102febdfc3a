// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml, /etc/efni/config.yaml, ~/.efni/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Server: HTTP listen address and CORS
//   - Postgres: pgvector-backed chunk index connection (see storage.go)
//   - Embedding / LLM: provider selection, models, timeouts
//   - Pipeline: retrieval and context-assembly parameters
//   - Retry: backoff policy for upstream calls
//   - Observability: OTLP trace export
//
// Security: sensitive data (passwords, API keys) is never logged; fields are
// explicitly masked in MarshalJSON().
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModel indicates a model name is invalid.
	ErrInvalidModel = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidDimensions indicates the embedding dimensionality is out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidTimeout indicates a timeout value is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidPipeline indicates a pipeline parameter is out of range.
	ErrInvalidPipeline = errors.New("invalid pipeline parameter")

	// ErrInvalidRetry indicates a retry parameter is out of range.
	ErrInvalidRetry = errors.New("invalid retry parameter")

	// ErrInvalidRateLimit indicates a rate limit parameter is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit parameter")

	// ErrInvalidServerPort indicates the HTTP server port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Provider identifiers used in EmbeddingConfig.Provider and LLMConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" json:"server"`
	Log           LogConfig           `mapstructure:"log" json:"log"`
	Postgres      PostgresConfig      `mapstructure:"postgres" json:"postgres"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding" json:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm" json:"llm"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline" json:"pipeline"`
	Retry         RetryConfig         `mapstructure:"retry" json:"retry"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit" json:"ratelimit"`
	CORS          CORSConfig          `mapstructure:"cors" json:"cors"`
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`
	Ingest        IngestConfig        `mapstructure:"ingest" json:"ingest"`

	// Provider credentials. Environment-only: bound to ANTHROPIC_API_KEY,
	// OPENAI_API_KEY and GEMINI_API_KEY, never read from the config file.
	AnthropicAPIKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIAPIKey    string `mapstructure:"openai_api_key" json:"openai_api_key"`       // SENSITIVE: masked in MarshalJSON
	GeminiAPIKey    string `mapstructure:"gemini_api_key" json:"gemini_api_key"`       // SENSITIVE: masked in MarshalJSON
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig holds logging settings (see internal/log).
type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	JSON      bool   `mapstructure:"json" json:"json"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

// PostgresConfig holds the chunk index connection settings.
// Connection string builders live in storage.go.
type PostgresConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"` // SENSITIVE: masked in MarshalJSON
	DBName   string `mapstructure:"dbname" json:"dbname"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

// MarshalJSON masks the password so nested marshalling stays safe.
func (p PostgresConfig) MarshalJSON() ([]byte, error) {
	type alias PostgresConfig
	a := alias(p)
	a.Password = maskSecret(a.Password)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal postgres config: %w", err)
	}
	return data, nil
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider     string        `mapstructure:"provider" json:"provider"` // "openai" (default) or "google"
	Model        string        `mapstructure:"model" json:"model"`
	Dimensions   int           `mapstructure:"dimensions" json:"dimensions"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	BatchSize    int           `mapstructure:"batch_size" json:"batch_size"`
	MaxTextRunes int           `mapstructure:"max_text_runes" json:"max_text_runes"`
}

// LLMConfig selects and tunes the generation provider.
// Temperature and MaxTokens are fixed configuration, not request-time input,
// so answers stay reproducible enough for testing.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" json:"provider"` // "anthropic" (default) or "google"
	Model             string        `mapstructure:"model" json:"model"`
	MaxTokens         int           `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature       float32       `mapstructure:"temperature" json:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" json:"requests_per_minute"`
}

// PipelineConfig holds retrieval and context-assembly parameters.
type PipelineConfig struct {
	TopK              int `mapstructure:"top_k" json:"top_k"`
	MaxContextChunks  int `mapstructure:"max_context_chunks" json:"max_context_chunks"`
	SectionCap        int `mapstructure:"section_cap" json:"section_cap"`
	MaxQuestionRunes  int `mapstructure:"max_question_runes" json:"max_question_runes"`
	MaxResultsLimit   int `mapstructure:"max_results_limit" json:"max_results_limit"`
	PromptTokenBudget int `mapstructure:"prompt_token_budget" json:"prompt_token_budget"`
}

// RetryConfig holds the upstream retry/backoff policy.
// MaxAttempts counts total attempts, including the first.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval"`
	IndexAttempts   int           `mapstructure:"index_attempts" json:"index_attempts"`
}

// RateLimitConfig holds per-client HTTP rate limiting settings.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" json:"rps"`
	Burst int     `mapstructure:"burst" json:"burst"`
}

// CORSConfig holds allowed browser origins for the tutor frontend.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
}

// ObservabilityConfig holds OTLP trace export settings.
type ObservabilityConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// IngestConfig holds offline ingestion settings.
type IngestConfig struct {
	DataDir  string `mapstructure:"data_dir" json:"data_dir"`
	LockFile string `mapstructure:"lock_file" json:"lock_file"`
}

// LockPath returns the absolute ingest lock file path.
func (i IngestConfig) LockPath() string {
	return filepath.Join(i.DataDir, i.LockFile)
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configure Viper search paths: working dir, system dir, user dir.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/efni")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".efni"))
	}

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", true)
	viper.SetDefault("log.add_source", false)

	// PostgreSQL defaults (local dev instance)
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "efni")
	viper.SetDefault("postgres.password", "efni_dev_password")
	viper.SetDefault("postgres.dbname", "efni")
	viper.SetDefault("postgres.sslmode", "disable")

	// Embedding defaults (OpenAI text-embedding-3-small, 1536 dims)
	viper.SetDefault("embedding.provider", ProviderOpenAI)
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.timeout", "5s")
	viper.SetDefault("embedding.batch_size", 100)
	viper.SetDefault("embedding.max_text_runes", 8000)

	// LLM defaults (Claude Sonnet tuned for Icelandic tutoring)
	viper.SetDefault("llm.provider", ProviderAnthropic)
	viper.SetDefault("llm.model", "claude-sonnet-4-20250514")
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("llm.requests_per_minute", 60)

	// Pipeline defaults
	viper.SetDefault("pipeline.top_k", 5)
	viper.SetDefault("pipeline.max_context_chunks", 4)
	viper.SetDefault("pipeline.section_cap", 2)
	viper.SetDefault("pipeline.max_question_runes", 500)
	viper.SetDefault("pipeline.max_results_limit", 10)
	viper.SetDefault("pipeline.prompt_token_budget", 8000)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_interval", "500ms")
	viper.SetDefault("retry.max_interval", "10s")
	viper.SetDefault("retry.index_attempts", 2)

	// HTTP rate limit defaults
	viper.SetDefault("ratelimit.rps", 10.0)
	viper.SetDefault("ratelimit.burst", 20)

	// CORS defaults (tutor frontend dev server)
	viper.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	// Observability defaults
	viper.SetDefault("observability.enabled", false)
	viper.SetDefault("observability.otlp_endpoint", "localhost:4318")
	viper.SetDefault("observability.service_name", "efni")
	viper.SetDefault("observability.environment", "dev")

	// Ingest defaults
	viper.SetDefault("ingest.data_dir", "./data")
	viper.SetDefault("ingest.lock_file", "efni-ingest.lock")
}

// bindEnvVariables binds environment variables explicitly.
// Provider API keys use their vendors' conventional names; everything else
// uses the EFNI_ prefix.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Provider credentials
	mustBind("anthropic_api_key", "ANTHROPIC_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("gemini_api_key", "GEMINI_API_KEY")

	// Server overrides
	mustBind("server.host", "EFNI_SERVER_HOST")
	mustBind("server.port", "EFNI_SERVER_PORT")

	// Log overrides
	mustBind("log.level", "EFNI_LOG_LEVEL")

	// PostgreSQL overrides (DATABASE_URL takes priority, see parseDatabaseURL)
	mustBind("postgres.host", "EFNI_POSTGRES_HOST")
	mustBind("postgres.port", "EFNI_POSTGRES_PORT")
	mustBind("postgres.user", "EFNI_POSTGRES_USER")
	mustBind("postgres.password", "EFNI_POSTGRES_PASSWORD")
	mustBind("postgres.dbname", "EFNI_POSTGRES_DBNAME")

	// Provider selection overrides
	mustBind("embedding.provider", "EFNI_EMBEDDING_PROVIDER")
	mustBind("embedding.model", "EFNI_EMBEDDING_MODEL")
	mustBind("llm.provider", "EFNI_LLM_PROVIDER")
	mustBind("llm.model", "EFNI_LLM_MODEL")

	// CORS origins (comma-separated list)
	mustBind("cors.allowed_origins", "EFNI_CORS_ORIGINS")

	// Observability overrides
	mustBind("observability.enabled", "EFNI_OTEL_ENABLED")
	mustBind("observability.otlp_endpoint", "EFNI_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "sk-proj-abc...xyz" → "sk<████████>yz"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - Postgres.Password (via PostgresConfig.MarshalJSON)
//   - AnthropicAPIKey, OpenAIAPIKey, GeminiAPIKey
//
// When adding new sensitive fields, update this method or the nested struct's
// MarshalJSON. The tests will remind you.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.AnthropicAPIKey = maskSecret(a.AnthropicAPIKey)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	// Note: Postgres.Password is handled by PostgresConfig.MarshalJSON
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
