package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "emx.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Extraction.Concurrency)
	assert.Equal(t, 25, cfg.Extraction.CommitBatchSize)
	assert.Equal(t, 100, cfg.Extraction.StatusChunkSize)
	assert.Equal(t, time.Second, cfg.Extraction.PausePollInterval())
	assert.Equal(t, 10*time.Minute, cfg.Extraction.StaleRunThreshold())
	assert.Equal(t, DefaultOpenRouterBaseURL, cfg.OpenRouter.BaseURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emx.toml")
	content := `
[database]
path = "/tmp/x.db"

[extraction]
concurrency = 2
commit_batch_size = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Extraction.Concurrency)
	assert.Equal(t, 5, cfg.Extraction.CommitBatchSize)
	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Extraction.StatusChunkSize)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestMergeConfigFiles_Precedence(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user.toml")
	project := filepath.Join(dir, "project.toml")
	require.NoError(t, os.WriteFile(user, []byte("[extraction]\nconcurrency = 3\ncommit_batch_size = 7\n"), 0o644))
	require.NoError(t, os.WriteFile(project, []byte("[extraction]\nconcurrency = 4\n"), 0o644))

	v := viper.New()
	SetDefaults(v)
	mergeConfigFiles(v, []string{filepath.Join(dir, "absent.toml"), user, project})

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Extraction.Concurrency)
	assert.Equal(t, 7, cfg.Extraction.CommitBatchSize)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EMX_DATABASE_PATH", "/var/emx.db")
	t.Setenv("EMX_OPENROUTER_API_KEY", "sk-test")
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/emx.db", cfg.Database.Path)
	assert.Equal(t, "sk-test", cfg.OpenRouter.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := LoadWithViper(v)
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "zero concurrency is invalid", mutate: func(c *Config) { c.Extraction.Concurrency = 0 }, wantErr: true},
		{name: "zero commit batch is invalid", mutate: func(c *Config) { c.Extraction.CommitBatchSize = 0 }, wantErr: true},
		{name: "zero status chunk is invalid", mutate: func(c *Config) { c.Extraction.StatusChunkSize = 0 }, wantErr: true},
		{name: "zero stale minutes disables sweep", mutate: func(c *Config) { c.Extraction.StaleRunMinutes = 0 }},
		{name: "negative stale minutes is invalid", mutate: func(c *Config) { c.Extraction.StaleRunMinutes = -1 }, wantErr: true},
		{name: "temperature above 2 is invalid", mutate: func(c *Config) { c.OpenRouter.Temperature = 2.5 }, wantErr: true},
		{name: "negative rate limit is invalid", mutate: func(c *Config) { c.OpenRouter.RequestsPerMinute = -5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
