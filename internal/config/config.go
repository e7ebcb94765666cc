package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the global ~/.deskcache/config.toml.
type Config struct {
	DefaultWorkspace string `toml:"default_workspace" env:"DESKCACHE_WORKSPACE"`

	Remote    Remote    `toml:"remote"`
	Hydration Hydration `toml:"hydration"`
	Refresh   Refresh   `toml:"refresh"`
	HTTP      HTTP      `toml:"http"`
	Log       Log       `toml:"log"`
}

// Remote configures the outbound support platform client.
type Remote struct {
	BaseURL           string        `toml:"base_url" env:"DESKCACHE_REMOTE_BASE_URL"`
	Token             string        `toml:"token" env:"DESKCACHE_REMOTE_TOKEN"`
	APIVersion        string        `toml:"api_version" env:"DESKCACHE_REMOTE_API_VERSION"`
	CallTimeout       time.Duration `toml:"call_timeout" env:"DESKCACHE_REMOTE_CALL_TIMEOUT"`
	MaxAttempts       int           `toml:"max_attempts" env:"DESKCACHE_REMOTE_MAX_ATTEMPTS"`
	BackoffInitial    time.Duration `toml:"backoff_initial" env:"DESKCACHE_REMOTE_BACKOFF_INITIAL"`
	BackoffMax        time.Duration `toml:"backoff_max" env:"DESKCACHE_REMOTE_BACKOFF_MAX"`
	BackoffFactor     float64       `toml:"backoff_factor" env:"DESKCACHE_REMOTE_BACKOFF_FACTOR"`
	MaxRateLimitWaits int           `toml:"max_rate_limit_waits" env:"DESKCACHE_REMOTE_MAX_RATE_LIMIT_WAITS"`
	RequestsPerSecond float64       `toml:"requests_per_second" env:"DESKCACHE_REMOTE_RPS"`
	Burst             int           `toml:"burst" env:"DESKCACHE_REMOTE_BURST"`
	PageSize          int           `toml:"page_size" env:"DESKCACHE_REMOTE_PAGE_SIZE"`
	MaxPages          int           `toml:"max_pages" env:"DESKCACHE_REMOTE_MAX_PAGES"`
}

// Hydration configures conversation thread hydration.
type Hydration struct {
	Concurrency     int           `toml:"concurrency" env:"DESKCACHE_HYDRATION_CONCURRENCY"`
	Staleness       time.Duration `toml:"staleness" env:"DESKCACHE_HYDRATION_STALENESS"`
	CheckpointEvery int           `toml:"checkpoint_every" env:"DESKCACHE_HYDRATION_CHECKPOINT_EVERY"`
	MaxPerRun       int           `toml:"max_per_run" env:"DESKCACHE_HYDRATION_MAX_PER_RUN"`
}

// Refresh configures collection refresh cycles.
type Refresh struct {
	Interval time.Duration `toml:"interval" env:"DESKCACHE_REFRESH_INTERVAL"`
	OnStart  bool          `toml:"on_start" env:"DESKCACHE_REFRESH_ON_START"`
	Timeout  time.Duration `toml:"timeout" env:"DESKCACHE_REFRESH_TIMEOUT"`
}

// HTTP configures the daemon's HTTP listener.
type HTTP struct {
	Addr            string        `toml:"addr" env:"DESKCACHE_HTTP_ADDR"`
	WebhookSecret   string        `toml:"webhook_secret" env:"DESKCACHE_WEBHOOK_SECRET"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"DESKCACHE_HTTP_SHUTDOWN_TIMEOUT"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level" env:"DESKCACHE_LOG_LEVEL"`
}

// Default returns the configuration used when no file or variable overrides a field.
func Default() *Config {
	return &Config{
		Remote: Remote{
			BaseURL:           "https://api.intercom.io",
			APIVersion:        "2.11",
			CallTimeout:       30 * time.Second,
			MaxAttempts:       4,
			BackoffInitial:    500 * time.Millisecond,
			BackoffMax:        8 * time.Second,
			BackoffFactor:     2,
			MaxRateLimitWaits: 10,
			RequestsPerSecond: 15,
			Burst:             5,
			PageSize:          150,
			MaxPages:          10000,
		},
		Hydration: Hydration{
			Concurrency:     8,
			Staleness:       15 * time.Minute,
			CheckpointEvery: 100,
		},
		Refresh: Refresh{
			Timeout: 10 * time.Minute,
		},
		HTTP: HTTP{
			Addr:            "127.0.0.1:8088",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns nil and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the file if it exists, falls back to defaults otherwise,
// then applies DESKCACHE_* environment overrides.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = Default()
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Remote.BaseURL == "":
		return fmt.Errorf("remote.base_url is required")
	case c.Remote.MaxAttempts < 1:
		return fmt.Errorf("remote.max_attempts must be >= 1, got %d", c.Remote.MaxAttempts)
	case c.Remote.RequestsPerSecond <= 0:
		return fmt.Errorf("remote.requests_per_second must be > 0")
	case c.Remote.CallTimeout <= 0:
		return fmt.Errorf("remote.call_timeout must be > 0")
	case c.Hydration.Concurrency < 1:
		return fmt.Errorf("hydration.concurrency must be >= 1, got %d", c.Hydration.Concurrency)
	case c.Refresh.Interval < 0:
		return fmt.Errorf("refresh.interval must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
