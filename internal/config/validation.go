package config

import (
	"fmt"
	"math"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	validProviders := []string{ProviderGemini, ProviderCompletion, ProviderGeneric}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q, must be one of: %v", ErrInvalidProvider, c.Provider, validProviders)
	}

	// Chunk sizing: the overlap must leave room for fresh content.
	if c.ChunkTargetTokens < 50 || c.ChunkTargetTokens > 8192 {
		return fmt.Errorf("%w: chunk_target_tokens must be between 50 and 8192, got %d",
			ErrInvalidChunkSize, c.ChunkTargetTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkTargetTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens must be in [0, chunk_target_tokens), got %d",
			ErrInvalidChunkSize, c.ChunkOverlapTokens)
	}

	// The budget must at least cover the response reserve plus one message.
	if c.HistoryTokenBudget < 100 {
		return fmt.Errorf("%w: history_token_budget must be at least 100, got %d",
			ErrInvalidTokenBudget, c.HistoryTokenBudget)
	}
	if c.ResponseReserveTokens < 0 || c.ResponseReserveTokens >= c.HistoryTokenBudget {
		return fmt.Errorf("%w: response_reserve_tokens must be in [0, history_token_budget), got %d",
			ErrInvalidTokenBudget, c.ResponseReserveTokens)
	}

	if c.RecentWindowMessages < 1 || c.RecentWindowMessages > 100 {
		return fmt.Errorf("%w: recent_window_messages must be between 1 and 100, got %d",
			ErrInvalidRecentWindow, c.RecentWindowMessages)
	}

	if c.SearchTopK < 1 || c.SearchTopK > 20 {
		return fmt.Errorf("%w: search_top_k must be between 1 and 20, got %d",
			ErrInvalidSearchTopK, c.SearchTopK)
	}

	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("%w: session_idle_timeout must be positive, got %v",
			ErrInvalidSessionTimeout, c.SessionIdleTimeout)
	}
	if c.SessionSweepInterval <= 0 || c.SessionSweepInterval > c.SessionIdleTimeout {
		return fmt.Errorf("%w: session_sweep_interval must be in (0, session_idle_timeout], got %v",
			ErrInvalidSessionTimeout, c.SessionSweepInterval)
	}

	// Scoring weights: each non-negative, at least one positive.
	for name, w := range map[string]float64{
		"recency_weight": c.RecencyWeight,
		"overlap_weight": c.OverlapWeight,
		"role_weight":    c.RoleWeight,
	} {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidScoringWeights, name, w)
		}
	}
	if c.RecencyWeight+c.OverlapWeight+c.RoleWeight == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidScoringWeights)
	}

	// PostgreSQL connection settings.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgres)
	}

	// Modern SSL modes only; allow/prefer are deprecated.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: ssl mode %q is not valid, must be one of: %v",
			ErrInvalidPostgres, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
