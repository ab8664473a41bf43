// Package config loads chatrelay configuration from an optional YAML
// file merged with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the relay binaries.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listen and rate-limit settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// MetricsAddress exposes prometheus metrics over HTTP when set
	// (for example "127.0.0.1:9090"). Empty disables the endpoint.
	MetricsAddress string          `yaml:"metrics_address"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds per-session inbound chat rates. RPS of zero
// disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 5555
	cfg.Server.RateLimit.RPS = 20
	cfg.Server.RateLimit.Burst = 40
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv merges CHATRELAY_* environment variables over the file
// values. Variables are read from the process environment; the
// binaries load a .env file first.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CHATRELAY_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("CHATRELAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATRELAY_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CHATRELAY_METRICS_ADDRESS"); v != "" {
		c.Server.MetricsAddress = v
	}
	if v := os.Getenv("CHATRELAY_RATE_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CHATRELAY_RATE_RPS: %w", err)
		}
		c.Server.RateLimit.RPS = rps
	}
	if v := os.Getenv("CHATRELAY_RATE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATRELAY_RATE_BURST: %w", err)
		}
		c.Server.RateLimit.Burst = burst
	}
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHATRELAY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// ListenAddr returns the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
