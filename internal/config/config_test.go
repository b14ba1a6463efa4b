package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.ListenAddress != "0.0.0.0:8080" {
		t.Errorf("listen address: %s", cfg.ListenAddress)
	}
	if cfg.Admin.Address != "0.0.0.0:9090" {
		t.Errorf("admin address: %s", cfg.Admin.Address)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level: %s", cfg.LogLevel)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.Redis.Addr != "localhost:6379" {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Grid.Rows != 100 || cfg.Grid.Cols != 26 {
		t.Errorf("grid defaults: %+v", cfg.Grid)
	}
	if cfg.Session.LockTTL != time.Hour {
		t.Errorf("lock ttl: %s", cfg.Session.LockTTL)
	}
	if cfg.Session.PresenceGrace != 5*time.Second {
		t.Errorf("presence grace: %s", cfg.Session.PresenceGrace)
	}
	if cfg.Session.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat interval: %s", cfg.Session.HeartbeatInterval)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Errorf("shutdown grace: %s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
listen_address: "127.0.0.1:9999"
store:
  backend: memory
grid:
  rows: 10
  cols: 5
session:
  lock_ttl: 2m
  presence_grace: 1s
  heartbeat_interval: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("listen address: %s", cfg.ListenAddress)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend: %s", cfg.Store.Backend)
	}
	if cfg.Grid.Rows != 10 || cfg.Grid.Cols != 5 {
		t.Errorf("grid: %+v", cfg.Grid)
	}
	if cfg.Session.LockTTL != 2*time.Minute {
		t.Errorf("lock ttl: %s", cfg.Session.LockTTL)
	}
	// Unset keys keep their defaults.
	if cfg.Admin.Address != "0.0.0.0:9090" {
		t.Errorf("admin address: %s", cfg.Admin.Address)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listen_address: "127.0.0.1:9999"
store:
  backend: memory
`)
	t.Setenv("GRIDWIRE_LISTEN_ADDRESS", "127.0.0.1:7777")
	t.Setenv("GRIDWIRE_STORE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:7777" {
		t.Errorf("env did not override listen address: %s", cfg.ListenAddress)
	}
	if cfg.Store.Redis.Addr != "redis.internal:6379" {
		t.Errorf("env did not override redis addr: %s", cfg.Store.Redis.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown backend", "store:\n  backend: etcd\n"},
		{"zero grid", "grid:\n  rows: 0\n"},
		{"bad duration", "session:\n  lock_ttl: forever\n"},
		{"negative grace", "session:\n  presence_grace: -1s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
