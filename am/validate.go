package am

import "github.com/mattsoldo/email-extractor-sub001/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Extraction.Concurrency <= 0 {
		return errors.Newf("extraction.concurrency must be > 0, got %d", c.Extraction.Concurrency)
	}
	if c.Extraction.CommitBatchSize <= 0 {
		return errors.Newf("extraction.commit_batch_size must be > 0, got %d", c.Extraction.CommitBatchSize)
	}
	if c.Extraction.StatusChunkSize <= 0 {
		return errors.Newf("extraction.status_chunk_size must be > 0, got %d", c.Extraction.StatusChunkSize)
	}
	if c.Extraction.PausePollIntervalMS <= 0 {
		return errors.Newf("extraction.pause_poll_interval_ms must be > 0, got %d", c.Extraction.PausePollIntervalMS)
	}
	// 0 disables the orphan sweep
	if c.Extraction.StaleRunMinutes < 0 {
		return errors.Newf("extraction.stale_run_minutes must be >= 0, got %d", c.Extraction.StaleRunMinutes)
	}
	if c.Extraction.MaxBodyChars < 0 {
		return errors.Newf("extraction.max_body_chars must be >= 0, got %d", c.Extraction.MaxBodyChars)
	}

	if c.OpenRouter.Temperature < 0 || c.OpenRouter.Temperature > 2 {
		return errors.Newf("openrouter.temperature must be within [0, 2], got %f", c.OpenRouter.Temperature)
	}
	if c.OpenRouter.MaxTokens < 0 {
		return errors.Newf("openrouter.max_tokens must be >= 0, got %d", c.OpenRouter.MaxTokens)
	}
	if c.OpenRouter.TimeoutSeconds < 0 {
		return errors.Newf("openrouter.timeout_seconds must be >= 0, got %d", c.OpenRouter.TimeoutSeconds)
	}
	if c.OpenRouter.RequestsPerMinute < 0 {
		return errors.Newf("openrouter.requests_per_minute must be >= 0, got %d", c.OpenRouter.RequestsPerMinute)
	}

	return nil
}
