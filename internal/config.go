package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the sync engine and the CLI need.
// Precedence: defaults < YAML file < CHATSYNC_* environment < command-line flags.
type Config struct {
	DataDir  string `yaml:"data_dir" env:"DATA_DIR"`
	Database string `yaml:"database" env:"DATABASE"`

	// Remote backend
	RESTURL     string `yaml:"rest_url" env:"REST_URL"`
	RealtimeURL string `yaml:"realtime_url" env:"REALTIME_URL"`
	APIKey      string `yaml:"api_key" env:"API_KEY"`
	AccessToken string `yaml:"access_token" env:"ACCESS_TOKEN"`
	UserID      string `yaml:"user_id" env:"USER_ID"`

	// Engine tuning
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	QueueSize         int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	ResyncConcurrency int           `yaml:"resync_concurrency" env:"RESYNC_CONCURRENCY"`
	DegradedMessages  bool          `yaml:"degraded_messages" env:"DEGRADED_MESSAGES"`

	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// DefaultConfig returns the built-in defaults rooted at the detected data directory
func DefaultConfig() Config {
	cfg := Config{
		HeartbeatInterval: 25 * time.Second,
		QueueSize:         256,
		ResyncConcurrency: 4,
	}
	if paths, err := DetectDataPaths(); err == nil {
		cfg.DataDir = paths.DataDir
		cfg.Database = paths.Database
	}
	return cfg
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped when
// it does not exist) and the environment
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			LogDebug("No config file at %s, using defaults", path)
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CHATSYNC_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Database == "" && cfg.DataDir != "" {
		cfg.Database = DataPathsFor(cfg.DataDir).Database
	}
	return &cfg, nil
}

// Paths returns the data paths implied by the configuration
func (c *Config) Paths() DataPaths {
	p := DataPathsFor(c.DataDir)
	if c.Database != "" {
		p.Database = c.Database
	}
	return p
}

// RemoteEnabled reports whether a realtime/REST backend is configured
func (c *Config) RemoteEnabled() bool {
	return c.RESTURL != "" || c.RealtimeURL != ""
}

// Validate checks URLs and numeric bounds
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	for name, raw := range map[string]string{"rest_url": c.RESTURL, "realtime_url": c.RealtimeURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: %q is not an absolute URL", name, raw)
		}
	}
	if c.RealtimeURL != "" {
		u, _ := url.Parse(c.RealtimeURL)
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("realtime_url: scheme must be ws or wss, got %q", u.Scheme)
		}
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.ResyncConcurrency < 1 {
		return fmt.Errorf("resync_concurrency must be positive, got %d", c.ResyncConcurrency)
	}
	if c.HeartbeatInterval < time.Second {
		return fmt.Errorf("heartbeat_interval must be at least 1s, got %s", c.HeartbeatInterval)
	}
	return nil
}
