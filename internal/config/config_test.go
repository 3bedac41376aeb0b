package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://transfermarkt-api.fly.dev", cfg.API.BaseURL)
	require.Equal(t, 2, cfg.API.MaxRetries)
	require.Equal(t, 2.0, cfg.API.BackoffMultiplier)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, "raw_data", cfg.Storage.RawPrefix)
	require.Equal(t, "control_data", cfg.Storage.ControlPrefix)
	require.Equal(t, 2, cfg.Loader.Workers)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout())
	require.Equal(t, time.Second, cfg.RetryDelay())
	require.Equal(t, 500*time.Millisecond, cfg.RateLimitDelay())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
api:
  base_url: https://api.example.test
  max_retries: 1
storage:
  provider: local
  local_base_dir: /tmp/transfermkt
loader:
  workers: 3
  teams: ["583", "27"]
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.test", cfg.API.BaseURL)
	require.Equal(t, 1, cfg.API.MaxRetries)
	require.Equal(t, "local", cfg.Storage.Provider)
	require.Equal(t, 3, cfg.Loader.Workers)
	require.Equal(t, []string{"583", "27"}, cfg.Loader.Teams)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }},
		{"zero timeout", func(c *Config) { c.API.TimeoutSeconds = 0 }},
		{"negative retries", func(c *Config) { c.API.MaxRetries = -1 }},
		{"backoff below one", func(c *Config) { c.API.BackoffMultiplier = 0.5 }},
		{"zero workers", func(c *Config) { c.Loader.Workers = 0 }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs" }},
		{"local without dir", func(c *Config) { c.Storage.Provider = "local" }},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "s3" }},
		{"db enabled without dsn", func(c *Config) { c.DB.Enabled = true }},
		{"pubsub enabled without topic", func(c *Config) { c.PubSub.Enabled = true }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
