// Package am loads emx configuration from defaults, TOML files and EMX_*
// environment variables.
package am

import "time"

// Config represents the emx configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Extraction ExtractionConfig `mapstructure:"extraction" toml:"extraction" json:"extraction" yaml:"extraction"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter" toml:"openrouter" json:"openrouter" yaml:"openrouter"`
	Metrics    MetricsConfig    `mapstructure:"metrics" toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// ExtractionConfig tunes the extraction run loop. Defaults: concurrency 8,
// commit batch 25, status chunk 100, pause poll 1000ms, stale run 10 minutes,
// body truncation 20000 characters.
type ExtractionConfig struct {
	Concurrency         int    `mapstructure:"concurrency" toml:"concurrency" json:"concurrency" yaml:"concurrency"`
	CommitBatchSize     int    `mapstructure:"commit_batch_size" toml:"commit_batch_size" json:"commit_batch_size" yaml:"commit_batch_size"`
	StatusChunkSize     int    `mapstructure:"status_chunk_size" toml:"status_chunk_size" json:"status_chunk_size" yaml:"status_chunk_size"`
	PausePollIntervalMS int    `mapstructure:"pause_poll_interval_ms" toml:"pause_poll_interval_ms" json:"pause_poll_interval_ms" yaml:"pause_poll_interval_ms"`
	StaleRunMinutes     int    `mapstructure:"stale_run_minutes" toml:"stale_run_minutes" json:"stale_run_minutes" yaml:"stale_run_minutes"`
	DefaultModel        string `mapstructure:"default_model" toml:"default_model" json:"default_model" yaml:"default_model"`
	MaxBodyChars        int    `mapstructure:"max_body_chars" toml:"max_body_chars" json:"max_body_chars" yaml:"max_body_chars"`
}

// OpenRouterConfig configures the OpenRouter-backed extraction invoker.
// RequestsPerMinute 0 means unlimited.
type OpenRouterConfig struct {
	APIKey            string  `mapstructure:"api_key" toml:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL           string  `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	Temperature       float64 `mapstructure:"temperature" toml:"temperature" json:"temperature" yaml:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
}

// MetricsConfig configures the Prometheus listener. An empty address
// disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address" toml:"address" json:"address" yaml:"address"`
}

// PausePollInterval returns the paused-run poll interval as a duration.
func (c ExtractionConfig) PausePollInterval() time.Duration {
	return time.Duration(c.PausePollIntervalMS) * time.Millisecond
}

// StaleRunThreshold returns the heartbeat age after which a running run is
// considered orphaned.
func (c ExtractionConfig) StaleRunThreshold() time.Duration {
	return time.Duration(c.StaleRunMinutes) * time.Minute
}

// Timeout returns the per-request HTTP timeout.
func (c OpenRouterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
