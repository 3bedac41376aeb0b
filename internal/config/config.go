// Package config loads and validates ingest configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Loader  LoaderConfig  `mapstructure:"loader"`
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig configures the upstream Transfermarkt API client.
type APIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	ProbePath         string  `mapstructure:"probe_path"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelayMs      int     `mapstructure:"retry_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	RateLimitDelayMs  int     `mapstructure:"rate_limit_delay_ms"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	LocalBaseDir  string `mapstructure:"local_base_dir"`
	RawPrefix     string `mapstructure:"raw_prefix"`
	ControlPrefix string `mapstructure:"control_prefix"`
	FilesToKeep   int    `mapstructure:"files_to_keep"`
}

// LoaderConfig governs the orchestrator run.
type LoaderConfig struct {
	Workers     int      `mapstructure:"workers"`
	Teams       []string `mapstructure:"teams"`
	Competition string   `mapstructure:"competition"`
	LeagueName  string   `mapstructure:"league_name"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls the optional run-history database.
type DBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRANSFERMKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://transfermarkt-api.fly.dev")
	v.SetDefault("api.probe_path", "/")
	v.SetDefault("api.timeout_seconds", 15)
	v.SetDefault("api.max_retries", 2)
	v.SetDefault("api.retry_delay_ms", 1000)
	v.SetDefault("api.backoff_multiplier", 2.0)
	v.SetDefault("api.rate_limit_delay_ms", 500)
	v.SetDefault("api.user_agent", "transfermkt-ingest/1.0")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.raw_prefix", "raw_data")
	v.SetDefault("storage.control_prefix", "control_data")
	v.SetDefault("storage.files_to_keep", 1)
	v.SetDefault("loader.workers", 2)
	v.SetDefault("loader.competition", "MLS1")
	v.SetDefault("loader.league_name", "major-league-soccer")
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.enabled", false)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0")
	}
	if c.API.BackoffMultiplier < 1 {
		return fmt.Errorf("api.backoff_multiplier must be >= 1")
	}
	if c.Loader.Workers <= 0 {
		return fmt.Errorf("loader.workers must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
		}
	case "local":
		if c.Storage.LocalBaseDir == "" {
			return fmt.Errorf("storage.local_base_dir must be set when provider is local")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// RequestTimeout converts the API timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RetryDelay converts the base retry delay into a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.API.RetryDelayMs) * time.Millisecond
}

// RateLimitDelay converts the inter-request spacing into a duration.
func (c Config) RateLimitDelay() time.Duration {
	return time.Duration(c.API.RateLimitDelayMs) * time.Millisecond
}
