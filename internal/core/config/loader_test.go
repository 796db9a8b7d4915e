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
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://calc:secret@db:5432/calcwatch?sslmode=disable")
	t.Setenv("TEST_HPC_USER", "hpcuser")

	path := writeConfig(t, `
database:
  url: ${TEST_DB_URL}
scheduler:
  user: ${TEST_HPC_USER}
  partition: compute
monitor:
  poll_interval: 30s
  min_runtime: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.URL != "postgres://calc:secret@db:5432/calcwatch?sslmode=disable" {
		t.Errorf("Database URL not expanded: %q", cfg.Database.URL)
	}
	if cfg.Scheduler.User != "hpcuser" {
		t.Errorf("Scheduler user not expanded: %q", cfg.Scheduler.User)
	}
	if cfg.Scheduler.Partition != "compute" {
		t.Errorf("Expected partition compute, got %q", cfg.Scheduler.Partition)
	}
	if cfg.Monitor.PollInterval != 30*time.Second {
		t.Errorf("Expected 30s poll interval, got %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MinRuntime != 2*time.Minute {
		t.Errorf("Expected 2m min runtime, got %s", cfg.Monitor.MinRuntime)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Monitor.PollInterval != 60*time.Second {
		t.Errorf("Expected default 60s poll interval, got %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MinRuntime != 5*time.Minute {
		t.Errorf("Expected default 5m min runtime, got %s", cfg.Monitor.MinRuntime)
	}
	if cfg.Monitor.MaxRecoveryAttempts != 3 {
		t.Errorf("Expected default 3 recovery attempts, got %d", cfg.Monitor.MaxRecoveryAttempts)
	}
	if cfg.Monitor.WorkRoot != "work" {
		t.Errorf("Expected default work root, got %q", cfg.Monitor.WorkRoot)
	}
	if cfg.Database.URL != "" {
		t.Errorf("Expected empty database URL, got %q", cfg.Database.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}
