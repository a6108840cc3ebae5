package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key presence depends on the selected provider. The SDKs read the
	// key from the environment directly; we only check it exists.
	switch c.Provider {
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	default:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "helpdeck_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Pipeline tunables
	if c.MaxQueryLength < 1 || c.MaxQueryLength > 100000 {
		return fmt.Errorf("%w: max_query_length must be between 1 and 100000, got %d",
			ErrInvalidPipelineLimit, c.MaxQueryLength)
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("%w: rate_limit_per_minute must be positive, got %d",
			ErrInvalidPipelineLimit, c.RateLimitPerMinute)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in [0,1], got %.2f",
			ErrInvalidPipelineLimit, c.SimilarityThreshold)
	}
	if c.ContextMaxResults < 1 || c.ContextMaxResults > 100 {
		return fmt.Errorf("%w: context_max_results must be between 1 and 100, got %d",
			ErrInvalidPipelineLimit, c.ContextMaxResults)
	}
	if c.SessionTimeoutMinutes < 1 {
		return fmt.Errorf("%w: session_timeout_minutes must be positive, got %d",
			ErrInvalidPipelineLimit, c.SessionTimeoutMinutes)
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > 1000 {
		return fmt.Errorf("%w: history_limit must be between 1 and 1000, got %d",
			ErrInvalidPipelineLimit, c.HistoryLimit)
	}
	if c.ContextWindowTokens < 100 {
		return fmt.Errorf("%w: context_window_tokens must be at least 100, got %d",
			ErrInvalidPipelineLimit, c.ContextWindowTokens)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("%w: query_timeout must be positive, got %v",
			ErrInvalidPipelineLimit, c.QueryTimeout)
	}

	if c.MonthlyQueryQuota < 1 {
		return fmt.Errorf("%w: monthly_query_quota must be positive, got %d",
			ErrInvalidQuota, c.MonthlyQueryQuota)
	}

	return nil
}
