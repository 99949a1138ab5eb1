package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadMissingFile tests that defaults apply when no config exists
func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "config.yaml"), dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Timeout.Std() != 60*time.Minute {
		t.Errorf("Timeout = %s, want 60m", cfg.Session.Timeout)
	}
	if cfg.Session.ExpiryInterval.Std() != 2*time.Minute {
		t.Errorf("ExpiryInterval = %s, want 2m", cfg.Session.ExpiryInterval)
	}
	if cfg.Session.AttemptThreshold != 3 {
		t.Errorf("AttemptThreshold = %d, want 3", cfg.Session.AttemptThreshold)
	}
	if cfg.Storage.Backend != BackendBolt {
		t.Errorf("Backend = %q, want %q", cfg.Storage.Backend, BackendBolt)
	}
	if cfg.Storage.BoltPath != filepath.Join(dir, "vault.db") {
		t.Errorf("BoltPath = %q, want under %q", cfg.Storage.BoltPath, dir)
	}
}

// TestLoadOverrides tests that file values override defaults
func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
session:
  timeout: 15m
  attempt_threshold: 5
storage:
  backend: sqlite
  sqlite_path: /tmp/test.sqlite
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Timeout.Std() != 15*time.Minute {
		t.Errorf("Timeout = %s, want 15m", cfg.Session.Timeout)
	}
	if cfg.Session.AttemptThreshold != 5 {
		t.Errorf("AttemptThreshold = %d, want 5", cfg.Session.AttemptThreshold)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.SQLitePath != "/tmp/test.sqlite" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.ExpiryInterval.Std() != 2*time.Minute {
		t.Errorf("ExpiryInterval = %s, want default 2m", cfg.Session.ExpiryInterval)
	}
}

// TestLoadEnvExpansion tests environment variable expansion
func TestLoadEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("PASSVAULT_TEST_DB", "/data/env.db")
	data := "storage:\n  bolt_path: ${PASSVAULT_TEST_DB}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.BoltPath != "/data/env.db" {
		t.Errorf("BoltPath = %q, want expanded env value", cfg.Storage.BoltPath)
	}
}

// TestValidateRejectsBadValues tests validation failures
func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero timeout", "session:\n  timeout: 0s\n"},
		{"unknown backend", "storage:\n  backend: redis\n"},
		{"zero threshold", "session:\n  attempt_threshold: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path, dir); err == nil {
				t.Error("Load() should reject invalid configuration")
			}
		})
	}
}

// TestMirrorRequiresBothPaths tests the mirror path requirement
func TestMirrorRequiresBothPaths(t *testing.T) {
	cfg := NewDefaultConfig(t.TempDir())
	cfg.Storage.Mirror = true
	cfg.Storage.SQLitePath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject mirror without both paths")
	}
}
