// Package config loads the merge tool's optional YAML configuration file.
// Every field has a working default; command-line flags and PCAPMERGE_*
// environment variables override the file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the merge tool configuration schema.
type Config struct {
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Fetch       FetchConfig       `yaml:"fetch"`
	S3          S3Config          `yaml:"s3"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	LogLevel    string            `yaml:"log_level"`
}

type ConcurrencyConfig struct {
	// DecodeBudget bounds how many sources decompress and parse at once.
	// Zero means GOMAXPROCS.
	DecodeBudget int `yaml:"decode_budget"`
	// FetchBudget bounds how many range requests are in flight across all
	// sources. Zero means 4x the decode budget.
	FetchBudget int `yaml:"fetch_budget"`
}

type FetchConfig struct {
	ChunkSizeBytes  int      `yaml:"chunk_size_bytes"`
	ChunksInFlight  int      `yaml:"chunks_in_flight"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

// Duration decodes YAML strings like "100ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type S3Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	AccessKeyID    string `yaml:"access_key_id"`
	SecretKey      string `yaml:"secret_access_key"`
	SessionToken   string `yaml:"session_token"`
}

type MetricsConfig struct {
	// Addr is the listen address for the Prometheus endpoint. Empty
	// disables the metrics server.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Concurrency.DecodeBudget <= 0 {
		c.Concurrency.DecodeBudget = runtime.GOMAXPROCS(0)
	}
	if c.Concurrency.FetchBudget <= 0 {
		c.Concurrency.FetchBudget = 4 * c.Concurrency.DecodeBudget
	}
	if c.Fetch.ChunkSizeBytes <= 0 {
		c.Fetch.ChunkSizeBytes = 128 << 10
	}
	if c.Fetch.ChunksInFlight <= 0 {
		c.Fetch.ChunksInFlight = 4
	}
	if c.Fetch.MaxAttempts <= 0 {
		c.Fetch.MaxAttempts = 4
	}
	if c.Fetch.InitialInterval <= 0 {
		c.Fetch.InitialInterval = Duration(100 * time.Millisecond)
	}
	if c.Fetch.MaxInterval <= 0 {
		c.Fetch.MaxInterval = Duration(5 * time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	if cfg.Fetch.ChunkSizeBytes < 0 || cfg.Fetch.ChunksInFlight < 0 {
		return Config{}, fmt.Errorf("fetch sizes must not be negative")
	}

	cfg.applyDefaults()
	return cfg, nil
}
