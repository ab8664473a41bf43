package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaults tests the built-in configuration.
func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr() != "127.0.0.1:5555" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.Server.RateLimit.RPS != 20 {
		t.Errorf("RateLimit.RPS = %v, want 20", cfg.Server.RateLimit.RPS)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

// TestLoadYAML tests file values overriding defaults.
func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `server:
  address: 0.0.0.0
  port: 7777
  metrics_address: 127.0.0.1:9090
  rate_limit:
    rps: 5
    burst: 10
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.ListenAddr() != "0.0.0.0:7777" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.Server.MetricsAddress != "127.0.0.1:9090" {
		t.Errorf("MetricsAddress = %q", cfg.Server.MetricsAddress)
	}
	if cfg.Server.RateLimit.RPS != 5 || cfg.Server.RateLimit.Burst != 10 {
		t.Errorf("RateLimit = %+v", cfg.Server.RateLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

// TestLoadMissingFileUsesDefaults tests that an absent file is not an error.
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Port = %d, want default 5555", cfg.Server.Port)
	}
}

// TestEnvOverrides tests environment variables beating file values.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_ADDRESS", "10.0.0.1")
	t.Setenv("CHATRELAY_PORT", "6666")
	t.Setenv("CHATRELAY_LOG_LEVEL", "warn")
	t.Setenv("CHATRELAY_RATE_RPS", "2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.ListenAddr() != "10.0.0.1:6666" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Server.RateLimit.RPS != 2.5 {
		t.Errorf("RateLimit.RPS = %v", cfg.Server.RateLimit.RPS)
	}
}

// TestEnvBadValues tests that unparseable overrides are reported.
func TestEnvBadValues(t *testing.T) {
	t.Setenv("CHATRELAY_PORT", "not-a-port")
	if _, err := Load(""); err == nil {
		t.Error("Load() accepted a non-numeric port")
	}
}
