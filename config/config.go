// Package config loads worker and connection settings from a YAML
// file. It is intentionally simple and explicit: one file, one
// struct, validated once at load time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a cabbage deployment.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig names the connection and which driver adapter to use.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"` // one of: pgxv5, pgxv4, pq, gopg
}

// WorkerConfig controls a worker pool's polling and concurrency.
type WorkerConfig struct {
	Queues           []string      `yaml:"queues"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	Concurrency      int           `yaml:"concurrency"`
	StalledThreshold time.Duration `yaml:"stalled_threshold"`
}

// LoggingConfig controls the zap logger's verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls whether Prometheus metrics are exposed and on
// which address.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and validates configuration from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cabbage/config: read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cabbage/config: parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a Config with every field set to its default value,
// as if loaded from an empty YAML document.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			PollInterval:     5 * time.Second,
			Concurrency:      1,
			StalledThreshold: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("cabbage/config: database.dsn is required")
	}

	switch c.Database.Driver {
	case "pgxv5", "pgxv4", "pq", "gopg":
	default:
		return fmt.Errorf("cabbage/config: invalid database.driver: %q", c.Database.Driver)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("cabbage/config: worker.concurrency must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("cabbage/config: worker.poll_interval must be positive")
	}
	if c.Worker.StalledThreshold <= 0 {
		return fmt.Errorf("cabbage/config: worker.stalled_threshold must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("cabbage/config: invalid logging.level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("cabbage/config: invalid logging.format: %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("cabbage/config: metrics.addr is required when metrics.enabled is true")
	}

	return nil
}
