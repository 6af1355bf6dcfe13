// Package config loads billingctl settings from ~/.config/billingctl
// with environment overrides, so the tool works both interactively and
// in cron-style jobs where only env vars exist.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL  string        `yaml:"database_url,omitempty"`
	StripeKey    string        `yaml:"stripe_key,omitempty"`
	PriceIDPro   string        `yaml:"price_id_pro,omitempty"`
	PriceIDTeam  string        `yaml:"price_id_team,omitempty"`
	DashboardURL string        `yaml:"dashboard_url,omitempty"`
	Concurrency  int           `yaml:"concurrency,omitempty"`
	BatchSize    int           `yaml:"batch_size,omitempty"`
	Timeouts     TimeoutConfig `yaml:"timeouts,omitempty"`
}

// TimeoutConfig holds durations as strings parseable by
// time.ParseDuration (e.g. "30s", "5m").
type TimeoutConfig struct {
	Database string `yaml:"database,omitempty"` // connect + per-query budget (default: 30s)
	Provider string `yaml:"provider,omitempty"` // per Stripe call (default: 30s)
	Sweep    string `yaml:"sweep,omitempty"`    // full --all run (default: 30m)
}

const (
	DefaultDashboardURL = "https://dashboard.stripe.com"
	DefaultConcurrency  = 4
	DefaultBatchSize    = 200

	// Environment variable names for configuration overrides
	EnvDatabaseURL = "BILLINGCTL_DATABASE_URL"
	EnvStripeKey   = "BILLINGCTL_STRIPE_KEY"

	DefaultDatabaseTimeout = 30 * time.Second
	DefaultProviderTimeout = 30 * time.Second
	DefaultSweepTimeout    = 30 * time.Minute
)

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "billingctl"), nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (*Config, error) {
	cfg := &Config{
		DashboardURL: DefaultDashboardURL,
		Concurrency:  DefaultConcurrency,
		BatchSize:    DefaultBatchSize,
	}

	path, err := Path()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.DashboardURL == "" {
		cfg.DashboardURL = DefaultDashboardURL
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets environment variables win over the file, the same
// precedence the services use. The service-side names are honored too
// so the tool picks up credentials on a host that already runs them.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(EnvStripeKey); v != "" {
		cfg.StripeKey = v
	} else if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" && cfg.StripeKey == "" {
		cfg.StripeKey = v
	}
	if v := os.Getenv("STRIPE_PRICE_ID_PRO"); v != "" && cfg.PriceIDPro == "" {
		cfg.PriceIDPro = v
	}
	if v := os.Getenv("STRIPE_PRICE_ID_TEAM"); v != "" && cfg.PriceIDTeam == "" {
		cfg.PriceIDTeam = v
	}
}

func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := Path()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasProvider() bool {
	return c.StripeKey != ""
}

// GetTimeout returns the configured timeout for the given operation,
// or the default if not set. Valid names: "database", "provider",
// "sweep".
func (c *Config) GetTimeout(name string) time.Duration {
	var configValue string
	var defaultValue time.Duration

	switch name {
	case "database":
		configValue = c.Timeouts.Database
		defaultValue = DefaultDatabaseTimeout
	case "provider":
		configValue = c.Timeouts.Provider
		defaultValue = DefaultProviderTimeout
	case "sweep":
		configValue = c.Timeouts.Sweep
		defaultValue = DefaultSweepTimeout
	default:
		return time.Minute
	}

	if configValue == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(configValue)
	if err != nil {
		return defaultValue
	}
	return parsed
}
