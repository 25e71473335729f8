package am

import (
	"github.com/spf13/viper"
)

// DefaultDirPermissions is used when creating ~/.emx
const DefaultDirPermissions = 0o755

// Extraction loop defaults
const (
	DefaultConcurrency       = 8
	DefaultCommitBatchSize   = 25
	DefaultStatusChunkSize   = 100
	DefaultPausePollMS       = 1000
	DefaultStaleRunMinutes   = 10
	DefaultMaxBodyChars      = 20000
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "emx.db")

	v.SetDefault("extraction.concurrency", DefaultConcurrency)
	v.SetDefault("extraction.commit_batch_size", DefaultCommitBatchSize)
	v.SetDefault("extraction.status_chunk_size", DefaultStatusChunkSize)
	v.SetDefault("extraction.pause_poll_interval_ms", DefaultPausePollMS)
	v.SetDefault("extraction.stale_run_minutes", DefaultStaleRunMinutes)
	v.SetDefault("extraction.default_model", "openai/gpt-4o-mini")
	v.SetDefault("extraction.max_body_chars", DefaultMaxBodyChars)

	v.SetDefault("openrouter.base_url", DefaultOpenRouterBaseURL)
	v.SetDefault("openrouter.temperature", 0.0)
	v.SetDefault("openrouter.max_tokens", 4000)
	v.SetDefault("openrouter.timeout_seconds", 120)
	v.SetDefault("openrouter.requests_per_minute", 0)

	v.SetDefault("metrics.address", "")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openrouter.api_key", "EMX_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("database.path", "EMX_DATABASE_PATH")
}
