package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	// Verify defaults.
	if cfg.Gate.Script != "scripts/run_make_test.sh" {
		t.Errorf("default script: expected scripts/run_make_test.sh, got %q", cfg.Gate.Script)
	}
	if len(cfg.Gate.Tools) != 4 {
		t.Errorf("default tools: expected 4, got %d", len(cfg.Gate.Tools))
	}
	expectedTools := []string{"Edit", "MultiEdit", "Write", "FilePatch"}
	for i, want := range expectedTools {
		if i < len(cfg.Gate.Tools) && cfg.Gate.Tools[i] != want {
			t.Errorf("default tool %d: expected %q, got %q", i, want, cfg.Gate.Tools[i])
		}
	}
	if cfg.Gate.TimeoutSeconds != 0 {
		t.Errorf("default timeout: expected 0, got %d", cfg.Gate.TimeoutSeconds)
	}
	if cfg.Gate.TailChars != 500 {
		t.Errorf("default tail_chars: expected 500, got %d", cfg.Gate.TailChars)
	}
	if cfg.Guidelines.MinDescription != 10 {
		t.Errorf("default min_description: expected 10, got %d", cfg.Guidelines.MinDescription)
	}
	if cfg.Guidelines.LargeChangeChars != 8000 {
		t.Errorf("default large_change_chars: expected 8000, got %d", cfg.Guidelines.LargeChangeChars)
	}
	if !cfg.Ledger.Enabled {
		t.Error("default ledger: expected enabled")
	}
	if cfg.Ledger.Dir != ".claude/revgate/ledger" {
		t.Errorf("default ledger dir: expected .claude/revgate/ledger, got %q", cfg.Ledger.Dir)
	}
	if cfg.Serve.Host != "127.0.0.1" {
		t.Errorf("default host: expected 127.0.0.1, got %q", cfg.Serve.Host)
	}
	if cfg.Serve.Port != 7333 {
		t.Errorf("default port: expected 7333, got %d", cfg.Serve.Port)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revgate.yaml")
	yaml := `
gate:
  script: "bin/ci.sh"
  tools: [Edit, Write]
  timeout_seconds: 120
  tail_chars: 200
  skip_paths: ["docs/*", "*.md"]
guidelines:
  min_description: 20
  disabled: [large_change]
ledger:
  enabled: false
serve:
  host: "0.0.0.0"
  port: 9090
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gate.Script != "bin/ci.sh" {
		t.Errorf("script: expected bin/ci.sh, got %q", cfg.Gate.Script)
	}
	if len(cfg.Gate.Tools) != 2 {
		t.Errorf("tools: expected 2, got %d", len(cfg.Gate.Tools))
	}
	if cfg.Gate.TimeoutSeconds != 120 {
		t.Errorf("timeout: expected 120, got %d", cfg.Gate.TimeoutSeconds)
	}
	if len(cfg.Gate.SkipPaths) != 2 {
		t.Errorf("skip_paths: expected 2, got %d", len(cfg.Gate.SkipPaths))
	}
	if cfg.Guidelines.MinDescription != 20 {
		t.Errorf("min_description: expected 20, got %d", cfg.Guidelines.MinDescription)
	}
	if len(cfg.Guidelines.Disabled) != 1 || cfg.Guidelines.Disabled[0] != "large_change" {
		t.Errorf("disabled: expected [large_change], got %v", cfg.Guidelines.Disabled)
	}
	if cfg.Ledger.Enabled {
		t.Error("ledger: expected disabled")
	}
	if cfg.Serve.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", cfg.Serve.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revgate.yaml")
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revgate.yaml")
	yaml := `
gate:
  timeout_seconds: 60
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	// Timeout overridden.
	if cfg.Gate.TimeoutSeconds != 60 {
		t.Errorf("timeout: expected 60, got %d", cfg.Gate.TimeoutSeconds)
	}
	// Script should retain default.
	if cfg.Gate.Script != "scripts/run_make_test.sh" {
		t.Errorf("script should be default, got %q", cfg.Gate.Script)
	}
	// Untouched sections retain defaults.
	if cfg.Guidelines.MinDescription != 10 {
		t.Errorf("min_description should be default 10, got %d", cfg.Guidelines.MinDescription)
	}
}

func TestLoad_ExplicitEmptyToolsDisablesGate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "revgate.yaml")
	yaml := `
gate:
  tools: []
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Gate.Tools) != 0 {
		t.Errorf("explicit empty tools should disable gating, got %v", cfg.Gate.Tools)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *Config)
		wantErr bool
	}{
		{"valid defaults", func(cfg *Config) {}, false},
		{"empty script", func(cfg *Config) { cfg.Gate.Script = "" }, true},
		{"negative timeout", func(cfg *Config) { cfg.Gate.TimeoutSeconds = -1 }, true},
		{"negative tail_chars", func(cfg *Config) { cfg.Gate.TailChars = -1 }, true},
		{"negative min_description", func(cfg *Config) { cfg.Guidelines.MinDescription = -1 }, true},
		{"negative large_change_chars", func(cfg *Config) { cfg.Guidelines.LargeChangeChars = -1 }, true},
		{"ledger enabled without dir", func(cfg *Config) { cfg.Ledger.Dir = "" }, true},
		{"ledger disabled without dir", func(cfg *Config) { cfg.Ledger.Enabled = false; cfg.Ledger.Dir = "" }, false},
		{"empty host", func(cfg *Config) { cfg.Serve.Host = "" }, true},
		{"port 0", func(cfg *Config) { cfg.Serve.Port = 0 }, true},
		{"port 65536", func(cfg *Config) { cfg.Serve.Port = 65536 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := applyDefaults()
			tt.modify(cfg)
			err := validate(cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".claude", "revgate.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	// Verify file was created.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	// Load it back and verify defaults.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}

	if cfg.Gate.TailChars != 500 {
		t.Errorf("roundtrip tail_chars: expected 500, got %d", cfg.Gate.TailChars)
	}
	if cfg.Serve.Port != 7333 {
		t.Errorf("roundtrip port: expected 7333, got %d", cfg.Serve.Port)
	}
}

func TestLoadOrDefault_BadConfigFallsBack(t *testing.T) {
	projectDir := t.TempDir()
	path := Path(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadOrDefault(projectDir)
	if cfg.Gate.Script != "scripts/run_make_test.sh" {
		t.Errorf("bad config should fall back to defaults, got script %q", cfg.Gate.Script)
	}
}

func TestLedgerDir(t *testing.T) {
	cfg := applyDefaults()

	got := cfg.LedgerDir("/proj")
	want := filepath.Join("/proj", ".claude", "revgate", "ledger")
	if got != want {
		t.Errorf("relative dir: expected %q, got %q", want, got)
	}

	cfg.Ledger.Dir = "/var/lib/revgate"
	if cfg.LedgerDir("/proj") != "/var/lib/revgate" {
		t.Errorf("absolute dir should be kept, got %q", cfg.LedgerDir("/proj"))
	}
}
