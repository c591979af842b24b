package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no stray config file is picked up.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Engine.Command != "qsengine" {
		t.Errorf("Engine.Command = %q, want qsengine", cfg.Engine.Command)
	}
	if cfg.Engine.CallTimeout != 10*time.Second {
		t.Errorf("Engine.CallTimeout = %v, want 10s", cfg.Engine.CallTimeout)
	}
	if cfg.Engine.MaxRetries != 2 {
		t.Errorf("Engine.MaxRetries = %d, want 2", cfg.Engine.MaxRetries)
	}
	if cfg.Circuit.EncryptionThreshold != 5 || cfg.Circuit.SigningThreshold != 3 || cfg.Circuit.KeyGenThreshold != 2 {
		t.Errorf("circuit thresholds = %d/%d/%d, want 5/3/2",
			cfg.Circuit.EncryptionThreshold, cfg.Circuit.SigningThreshold, cfg.Circuit.KeyGenThreshold)
	}
	if cfg.Circuit.ResetTimeout != 30*time.Second {
		t.Errorf("Circuit.ResetTimeout = %v, want 30s", cfg.Circuit.ResetTimeout)
	}
	if cfg.Migration.Workers != 4 {
		t.Errorf("Migration.Workers = %d, want 4", cfg.Migration.Workers)
	}
	if cfg.Store.MongoURI != "" {
		t.Errorf("Store.MongoURI = %q, want empty", cfg.Store.MongoURI)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hybridcrypto.yaml")
	content := `
log:
  level: debug
engine:
  command: /opt/engine/qsengine
  args: ["--fips"]
  max_retries: 5
circuit:
  encryption_threshold: 10
  reset_timeout: 5s
migration:
  workers: 8
  halt_on_error: true
store:
  mongo_uri: mongodb://localhost:27017
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Engine.Command != "/opt/engine/qsengine" {
		t.Errorf("Engine.Command = %q", cfg.Engine.Command)
	}
	if len(cfg.Engine.Args) != 1 || cfg.Engine.Args[0] != "--fips" {
		t.Errorf("Engine.Args = %v", cfg.Engine.Args)
	}
	if cfg.Engine.MaxRetries != 5 {
		t.Errorf("Engine.MaxRetries = %d, want 5", cfg.Engine.MaxRetries)
	}
	if cfg.Circuit.EncryptionThreshold != 10 {
		t.Errorf("Circuit.EncryptionThreshold = %d, want 10", cfg.Circuit.EncryptionThreshold)
	}
	if cfg.Circuit.ResetTimeout != 5*time.Second {
		t.Errorf("Circuit.ResetTimeout = %v, want 5s", cfg.Circuit.ResetTimeout)
	}
	if !cfg.Migration.HaltOnError {
		t.Error("Migration.HaltOnError = false, want true")
	}
	if cfg.Store.MongoURI != "mongodb://localhost:27017" {
		t.Errorf("Store.MongoURI = %q", cfg.Store.MongoURI)
	}

	// Unset keys keep their defaults.
	if cfg.Circuit.SigningThreshold != 3 {
		t.Errorf("Circuit.SigningThreshold = %d, want default 3", cfg.Circuit.SigningThreshold)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config path")
	}
}
