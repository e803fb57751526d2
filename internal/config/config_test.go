package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtr-relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadWithUnits(t *testing.T) {
	path := writeConfig(t, `
units:
  - name: local
    remote: 127.0.0.1:3323
  - name: backup
    remote: rtr.example.net:323
    retry: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}

	if len(cfg.Units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(cfg.Units))
	}
	if cfg.Units[0].RetryInterval() != 60*time.Second {
		t.Errorf("expected default retry of 60s, got %s", cfg.Units[0].RetryInterval())
	}
	if cfg.Units[1].RetryInterval() != 5*time.Second {
		t.Errorf("expected retry of 5s, got %s", cfg.Units[1].RetryInterval())
	}
	if cfg.Server.Listen != ":8323" {
		t.Errorf("expected default listen address, got '%s'", cfg.Server.Listen)
	}
	if cfg.Server.RatePerSecond != 20 {
		t.Errorf("expected 20 requests per second by default, got %d", cfg.Server.RatePerSecond)
	}
	if cfg.Gate.Queue != 8 {
		t.Errorf("expected gate queue of 8 by default, got %d", cfg.Gate.Queue)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info logging by default, got '%s'", cfg.Logging.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RTR_RELAY_SERVER_LISTEN", "127.0.0.1:9000")
	path := writeConfig(t, `
units:
  - name: local
    remote: 127.0.0.1:3323
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("expected listen address from env, got '%s'", cfg.Server.Listen)
	}
}

func TestLoadWithoutUnits(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8323"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error when no units are configured")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestServerConfigLimit(t *testing.T) {
	s := ServerConfig{Listen: ":8323"}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid server config, got: %v", err)
	}
	if s.BurstSize() != 1 {
		t.Errorf("expected burst of 1, got %d", s.BurstSize())
	}

	s.Listen = "8323"
	if err := s.Validate(); err == nil {
		t.Error("expected error for listen address without port separator")
	}
}
