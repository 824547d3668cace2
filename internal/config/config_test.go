package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  dsn: \"postgres://localhost/conductor\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.ReactiveWorkers != 2 {
		t.Errorf("ReactiveWorkers = %d, want 2", cfg.Worker.ReactiveWorkers)
	}
	if cfg.Ledger.ProactiveDailyTokenLimit != 7_000_000 {
		t.Errorf("ProactiveDailyTokenLimit = %d, want 7000000", cfg.Ledger.ProactiveDailyTokenLimit)
	}
}

func TestLoadMissingDSNFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing store.dsn")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "store:\n  dsn: \"postgres://localhost/conductor\"\nbogus_field: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error for unknown field")
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  dsn: \"postgres://localhost/conductor\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUCTOR_DAILY_TOKEN_LIMIT", "12345")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.ProactiveDailyTokenLimit != 12345 {
		t.Errorf("ProactiveDailyTokenLimit = %d, want 12345", cfg.Ledger.ProactiveDailyTokenLimit)
	}
}
