package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rgmining/fraudeagle/internal/safefile"
	"gopkg.in/yaml.v3"
)

// maxConfigBytes bounds the size of a config file.
const maxConfigBytes = 1 << 20

// Config is the top-level fraudeagle configuration.
type Config struct {
	Version  string         `yaml:"version"`
	LogLevel string         `yaml:"log_level"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Store    StoreConfig    `yaml:"store"`
	Publish  PublishConfig  `yaml:"publish,omitempty"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty"`
}

// AnalysisConfig holds the belief propagation hyperparameters.
type AnalysisConfig struct {
	Epsilon       float64 `yaml:"epsilon"`
	Threshold     float64 `yaml:"threshold"` // stop once the update delta falls below this
	MaxIterations int     `yaml:"max_iterations"`
	Workers       int     `yaml:"workers"`
}

// DatasetConfig describes where reviews are read from.
type DatasetConfig struct {
	Path     string  `yaml:"path"`
	Format   string  `yaml:"format,omitempty"` // csv, jsonl; empty = from extension
	MaxBytes int64   `yaml:"max_bytes,omitempty"`
	MinScore float64 `yaml:"min_score,omitempty"` // rating scale, mapped onto [0, 1]
	MaxScore float64 `yaml:"max_score,omitempty"`
}

// StoreConfig selects the result database.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// PublishConfig configures the Redis result publisher.
type PublishConfig struct {
	RedisAddr string `yaml:"redis_addr,omitempty"` // empty disables publishing
	KeyPrefix string `yaml:"key_prefix,omitempty"`
	TTLHours  int    `yaml:"ttl_hours,omitempty"`
}

// ServerConfig holds the read API settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"` // Address to bind (default: 127.0.0.1)
}

// TracingConfig toggles OpenTelemetry tracing to stdout.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a fraudeagle config file.
func Load(path string) (*Config, error) {
	data, err := safefile.ReadFileMax(path, maxConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Dataset.MaxBytes == 0 {
		cfg.Dataset.MaxBytes = Defaults().Dataset.MaxBytes
	}
	if cfg.Publish.KeyPrefix == "" {
		cfg.Publish.KeyPrefix = "fraudeagle"
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version:  "1",
		LogLevel: "info",
		Analysis: AnalysisConfig{
			Epsilon:       0.1,
			Threshold:     1e-7,
			MaxIterations: 10000,
			Workers:       1,
		},
		Dataset: DatasetConfig{
			MaxBytes: 256 << 20,
			MinScore: 0,
			MaxScore: 1,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "fraudeagle.db",
		},
		Publish: PublishConfig{
			KeyPrefix: "fraudeagle",
			TTLHours:  168,
		},
		Server: ServerConfig{
			Port: 8090,
		},
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	if !(c.Analysis.Epsilon > 0 && c.Analysis.Epsilon < 0.5) {
		return fmt.Errorf("analysis.epsilon must be in (0, 0.5), got %v", c.Analysis.Epsilon)
	}
	if !(c.Analysis.Threshold > 0) {
		return fmt.Errorf("analysis.threshold must be positive, got %v", c.Analysis.Threshold)
	}
	if c.Analysis.MaxIterations < 1 {
		return fmt.Errorf("analysis.max_iterations must be at least 1, got %d", c.Analysis.MaxIterations)
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis.workers must be at least 1, got %d", c.Analysis.Workers)
	}
	if _, err := c.Dataset.ResolvedFormat(); err != nil {
		return err
	}
	if c.Dataset.MaxScore <= c.Dataset.MinScore {
		return fmt.Errorf("dataset.max_score (%v) must exceed dataset.min_score (%v)", c.Dataset.MaxScore, c.Dataset.MinScore)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
		// valid
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, postgres", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Publish.TTLHours < 0 {
		return fmt.Errorf("publish.ttl_hours must not be negative, got %d", c.Publish.TTLHours)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ResolvedFormat returns the dataset format, inferring it from the file
// extension when Format is empty.
func (d DatasetConfig) ResolvedFormat() (string, error) {
	format := strings.ToLower(d.Format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(d.Path)) {
		case ".jsonl", ".ndjson", ".json":
			format = "jsonl"
		default:
			format = "csv"
		}
	}
	switch format {
	case "csv", "jsonl":
		return format, nil
	}
	return "", fmt.Errorf("dataset.format %q is not one of csv, jsonl", d.Format)
}

// ParseLevel maps a log_level value onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log_level %q", level)
}
