package config

import (
	"fmt"
	"slices"
)

// validSSLModes lists the PostgreSQL sslmode values we accept.
var validSSLModes = []string{"disable", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidServerPort, c.Server.Port)
	}

	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}

	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("%w: rps must be positive, got %v", ErrInvalidRateLimit, c.RateLimit.RPS)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("%w: burst must be >= 1, got %d", ErrInvalidRateLimit, c.RateLimit.Burst)
	}

	return nil
}

// ValidateProviderKeys checks that API keys exist for the selected providers.
// Split from Validate so offline commands (stats, version) can load config
// without credentials.
func (c *Config) ValidateProviderKeys() error {
	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for embedding provider %q",
				ErrMissingAPIKey, c.Embedding.Provider)
		}
	case ProviderGoogle:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for embedding provider %q",
				ErrMissingAPIKey, c.Embedding.Provider)
		}
	}

	switch c.LLM.Provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: ANTHROPIC_API_KEY is required for llm provider %q",
				ErrMissingAPIKey, c.LLM.Provider)
		}
	case ProviderGoogle:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for llm provider %q",
				ErrMissingAPIKey, c.LLM.Provider)
		}
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.Postgres.DBName == "" {
		return fmt.Errorf("%w: dbname cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.Postgres.SSLMode) {
		return fmt.Errorf("%w: %q (must be one of %v)",
			ErrInvalidPostgresSSLMode, c.Postgres.SSLMode, validSSLModes)
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	if c.Embedding.Provider != ProviderOpenAI && c.Embedding.Provider != ProviderGoogle {
		return fmt.Errorf("%w: embedding provider %q (must be %q or %q)",
			ErrInvalidProvider, c.Embedding.Provider, ProviderOpenAI, ProviderGoogle)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("%w: embedding model cannot be empty", ErrInvalidModel)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidDimensions, c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidBatchSize, c.Embedding.BatchSize)
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("%w: embedding.timeout must be positive", ErrInvalidTimeout)
	}
	if c.Embedding.MaxTextRunes < 1 {
		return fmt.Errorf("%w: max_text_runes %d (must be >= 1)", ErrInvalidPipeline, c.Embedding.MaxTextRunes)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.Provider != ProviderAnthropic && c.LLM.Provider != ProviderGoogle {
		return fmt.Errorf("%w: llm provider %q (must be %q or %q)",
			ErrInvalidProvider, c.LLM.Provider, ProviderAnthropic, ProviderGoogle)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: llm model cannot be empty", ErrInvalidModel)
	}
	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: %.2f (must be 0.0-2.0)", ErrInvalidTemperature, c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidMaxTokens, c.LLM.MaxTokens)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm.timeout must be positive", ErrInvalidTimeout)
	}
	if c.LLM.RequestsPerMinute < 1 {
		return fmt.Errorf("%w: requests_per_minute must be >= 1, got %d",
			ErrInvalidRateLimit, c.LLM.RequestsPerMinute)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.TopK < 1 || p.TopK > 10 {
		return fmt.Errorf("%w: top_k %d (must be 1-10)", ErrInvalidPipeline, p.TopK)
	}
	if p.MaxContextChunks < 1 || p.MaxContextChunks > 10 {
		return fmt.Errorf("%w: max_context_chunks %d (must be 1-10)", ErrInvalidPipeline, p.MaxContextChunks)
	}
	if p.SectionCap < 1 {
		return fmt.Errorf("%w: section_cap %d (must be >= 1)", ErrInvalidPipeline, p.SectionCap)
	}
	if p.MaxQuestionRunes < 1 {
		return fmt.Errorf("%w: max_question_runes %d (must be >= 1)", ErrInvalidPipeline, p.MaxQuestionRunes)
	}
	if p.MaxResultsLimit < 1 || p.MaxResultsLimit > 10 {
		return fmt.Errorf("%w: max_results_limit %d (must be 1-10)", ErrInvalidPipeline, p.MaxResultsLimit)
	}
	if p.PromptTokenBudget < 1 {
		return fmt.Errorf("%w: prompt_token_budget %d (must be >= 1)", ErrInvalidPipeline, p.PromptTokenBudget)
	}
	return nil
}

func (c *Config) validateRetry() error {
	r := c.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts %d (must be >= 1)", ErrInvalidRetry, r.MaxAttempts)
	}
	if r.IndexAttempts < 1 {
		return fmt.Errorf("%w: index_attempts %d (must be >= 1)", ErrInvalidRetry, r.IndexAttempts)
	}
	if r.InitialInterval <= 0 {
		return fmt.Errorf("%w: initial_interval must be positive", ErrInvalidRetry)
	}
	if r.MaxInterval < r.InitialInterval {
		return fmt.Errorf("%w: max_interval %v is less than initial_interval %v",
			ErrInvalidRetry, r.MaxInterval, r.InitialInterval)
	}
	return nil
}
