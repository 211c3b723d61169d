// Package config loads Burrow's configuration from a YAML or TOML file,
// environment variables and defaults, in increasing order of precedence:
// defaults, file, environment. Command-line flags are applied last by the
// CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv
const (
	EnvDataDir   = "BURROW_DATA_DIR"
	EnvRemoteURL = "BURROW_REMOTE_URL"
	EnvLogLevel  = "BURROW_LOG_LEVEL"
)

// Config is the complete runtime configuration
type Config struct {
	DataDir string        `yaml:"data_dir" toml:"data_dir"`
	Remote  RemoteConfig  `yaml:"remote" toml:"remote"`
	Sync    SyncConfig    `yaml:"sync" toml:"sync"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// RemoteConfig configures the remote endpoint
type RemoteConfig struct {
	URL       string        `yaml:"url" toml:"url"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	RateLimit float64       `yaml:"rate_limit" toml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst" toml:"burst"`
}

// SyncConfig configures background synchronization
type SyncConfig struct {
	Interval time.Duration `yaml:"interval" toml:"interval"` // 0 disables periodic sync
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
	File  string `yaml:"file" toml:"file"`
}

// MetricsConfig configures the metrics and health listener
type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // empty disables the listener
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DataDir: "./burrow-data",
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
			Burst:   1,
		},
		Sync: SyncConfig{
			Interval: time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(filepath.Ext(path), data); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func (c *Config) decode(ext string, data []byte) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to decode yaml: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("failed to decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown toml keys: %v", undecoded)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", ext)
	}
	return nil
}

// ApplyEnv overrides fields from BURROW_* environment variables
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvRemoteURL); ok && v != "" {
		c.Remote.URL = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote.url must be an http(s) URL, got %q", c.Remote.URL)
		}
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	if c.Remote.RateLimit < 0 || c.Remote.Burst < 0 {
		return fmt.Errorf("remote.rate_limit and remote.burst must not be negative")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	return nil
}
