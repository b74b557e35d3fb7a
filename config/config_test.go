package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate, got: %v", err)
	}
}

func TestLoadOverridesOnlyMentionedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	body := `
[logging]
level = "debug"

[http_dispatch]
enabled = true
addr = ":9090"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden logging level, got %q", cfg.Logging.Level)
	}
	if !cfg.HTTPDispatch.Enabled || cfg.HTTPDispatch.Addr != ":9090" {
		t.Fatalf("expected overridden http_dispatch, got %+v", cfg.HTTPDispatch)
	}
	if cfg.DataModel.DefaultBinding != "early" {
		t.Fatalf("expected default_binding to keep its default, got %q", cfg.DataModel.DefaultBinding)
	}
	if cfg.Scripting.ProgramCacheSize != 256 {
		t.Fatalf("expected scripting cache size to keep its default, got %d", cfg.Scripting.ProgramCacheSize)
	}
}

func TestLoadRejectsUnrecognisedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte("bogus_key = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unrecognised key")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte("[data_model]\ndefault_binding = \"sideways\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation to reject an unknown binding mode")
	}
}

func TestValidateRejectsBadLevelAndCacheSize(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognised logging level")
	}

	cfg = Default()
	cfg.Scripting.ProgramCacheSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a non-positive cache size")
	}
}
