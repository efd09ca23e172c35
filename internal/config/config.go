// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.mentor/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, embedder model, tokenizer encoding
//   - Retrieval: chunk sizing, search top-k
//   - Context window: history budget, recent window, response reserve
//   - Sessions: idle timeout, sweep interval
//   - Storage: PostgreSQL connection
//
// Validation lives in validation.go; sentinel errors work with errors.Is().
package config

import (
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

	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidChunkSize indicates chunk sizing is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidTokenBudget indicates the history token budget is out of range.
	ErrInvalidTokenBudget = errors.New("invalid token budget")

	// ErrInvalidRecentWindow indicates the recent-window size is out of range.
	ErrInvalidRecentWindow = errors.New("invalid recent window")

	// ErrInvalidSearchTopK indicates the search result count is out of range.
	ErrInvalidSearchTopK = errors.New("invalid search top-k")

	// ErrInvalidSessionTimeout indicates session lifecycle durations are invalid.
	ErrInvalidSessionTimeout = errors.New("invalid session timeout")

	// ErrInvalidScoringWeights indicates window scoring weights are invalid.
	ErrInvalidScoringWeights = errors.New("invalid scoring weights")

	// ErrInvalidPostgres indicates the PostgreSQL connection settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

// LLM provider identifiers used in Config.Provider.
const (
	ProviderGemini     = "gemini"
	ProviderCompletion = "completion"
	ProviderGeneric    = "generic"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider          string `mapstructure:"provider" json:"provider"`
	ModelName         string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	TokenizerEncoding string `mapstructure:"tokenizer_encoding" json:"tokenizer_encoding"`
	OllamaHost        string `mapstructure:"ollama_host" json:"ollama_host"`
	SystemPrompt      string `mapstructure:"system_prompt" json:"system_prompt"`

	// Chunking configuration
	ChunkTargetTokens  int `mapstructure:"chunk_target_tokens" json:"chunk_target_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`

	// Context window configuration
	HistoryTokenBudget    int `mapstructure:"history_token_budget" json:"history_token_budget"`
	RecentWindowMessages  int `mapstructure:"recent_window_messages" json:"recent_window_messages"`
	ResponseReserveTokens int `mapstructure:"response_reserve_tokens" json:"response_reserve_tokens"`

	// Window relevance scoring weights. Empirically chosen defaults;
	// any weighted combination of recency, overlap, and role works.
	RecencyWeight float64 `mapstructure:"recency_weight" json:"recency_weight"`
	OverlapWeight float64 `mapstructure:"overlap_weight" json:"overlap_weight"`
	RoleWeight    float64 `mapstructure:"role_weight" json:"role_weight"`

	// Retrieval configuration
	SearchTopK int `mapstructure:"search_top_k" json:"search_top_k"`

	// Session lifecycle configuration
	SessionIdleTimeout   time.Duration `mapstructure:"session_idle_timeout" json:"session_idle_timeout"`
	SessionSweepInterval time.Duration `mapstructure:"session_sweep_interval" json:"session_sweep_interval"`

	// External call timeouts
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	SearchTimeout time.Duration `mapstructure:"search_timeout" json:"search_timeout"`
	LLMTimeout    time.Duration `mapstructure:"llm_timeout" json:"llm_timeout"`

	// HTTP server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".mentor")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("tokenizer_encoding", "cl100k_base")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("system_prompt",
		"You are Mentor, a research assistant. Ground your answers in the "+
			"user's uploaded documents when they are provided, and say so "+
			"when they are not relevant.")

	// Chunking defaults
	v.SetDefault("chunk_target_tokens", 500)
	v.SetDefault("chunk_overlap_tokens", 50)

	// Context window defaults
	v.SetDefault("history_token_budget", 8000)
	v.SetDefault("recent_window_messages", 5)
	v.SetDefault("response_reserve_tokens", 500)
	v.SetDefault("recency_weight", 0.3)
	v.SetDefault("overlap_weight", 0.4)
	v.SetDefault("role_weight", 0.3)

	// Retrieval defaults
	v.SetDefault("search_top_k", 4)

	// Session lifecycle defaults
	v.SetDefault("session_idle_timeout", 24*time.Hour)
	v.SetDefault("session_sweep_interval", time.Hour)

	// External call timeouts
	v.SetDefault("embed_timeout", 10*time.Second)
	v.SetDefault("search_timeout", 10*time.Second)
	v.SetDefault("llm_timeout", 30*time.Second)

	// HTTP defaults
	v.SetDefault("listen_addr", ":8080")

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "mentor")
	v.SetDefault("postgres_password", "mentor_dev_password")
	v.SetDefault("postgres_db_name", "mentor")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "MENTOR_PROVIDER")
	mustBind("model_name", "MENTOR_MODEL_NAME")
	mustBind("embedder_model", "MENTOR_EMBEDDER_MODEL")
	mustBind("ollama_host", "MENTOR_OLLAMA_HOST")
	mustBind("system_prompt", "MENTOR_SYSTEM_PROMPT")
	mustBind("listen_addr", "MENTOR_LISTEN_ADDR")
	mustBind("postgres_host", "MENTOR_POSTGRES_HOST")
	mustBind("postgres_port", "MENTOR_POSTGRES_PORT")
	mustBind("postgres_user", "MENTOR_POSTGRES_USER")
	mustBind("postgres_password", "MENTOR_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "MENTOR_POSTGRES_DB_NAME")
	mustBind("postgres_ssl_mode", "MENTOR_POSTGRES_SSL_MODE")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
}

// DatabaseURL renders the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}
