// Package config handles loading, validating, and writing the revgate
// configuration from <project>/.claude/revgate.yaml.
//
// The config defines:
//   - Gate behavior (test script path, gated tools, timeout, output tails)
//   - Guideline evaluation thresholds and disabled rules
//   - Decision ledger location and toggle
//   - Live feed bind address (host:port)
//
// Hooks never hard-fail on configuration problems: LoadOrDefault falls
// back to defaults so a broken YAML file cannot block an agent session.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file location relative to the project root.
const FileName = ".claude/revgate.yaml"

// Config is the top-level revgate configuration.
// Loaded from <project>/.claude/revgate.yaml, with sensible defaults for
// fields that are not explicitly set.
type Config struct {
	Gate       GateConfig      `yaml:"gate"`
	Guidelines GuidelineConfig `yaml:"guidelines"`
	Ledger     LedgerConfig    `yaml:"ledger"`
	Serve      ServeConfig     `yaml:"serve"`
}

// GateConfig controls the test gate that runs before mutating tool actions.
//
// Script is resolved relative to the event's working directory. Tools is
// the allow-list of tool names that trigger the gate; an explicit empty
// list disables gating entirely. TimeoutSeconds of 0 means no timeout —
// the test run goes to completion. SkipPaths are glob patterns; actions
// targeting a matching file skip the test run.
type GateConfig struct {
	Script         string   `yaml:"script"`
	Tools          []string `yaml:"tools"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	TailChars      int      `yaml:"tail_chars"`
	SkipPaths      []string `yaml:"skip_paths"`
}

// GuidelineConfig controls best-practice evaluation.
type GuidelineConfig struct {
	MinDescription   int      `yaml:"min_description"`
	LargeChangeChars int      `yaml:"large_change_chars"`
	Disabled         []string `yaml:"disabled"`
}

// LedgerConfig controls the hash-chained decision ledger.
// Dir is resolved relative to the project root.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// ServeConfig defines where the live feed listens.
// Default: 127.0.0.1:7333 (loopback only — never bind to 0.0.0.0).
type ServeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Path returns the config file path for a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, FileName)
}

// Load reads and parses revgate.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal before
			// `revgate config init` creates the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the project config, falling back to defaults on
// any error. Hook invocations use this: a malformed config file must
// degrade to default behavior, never block the agent.
func LoadOrDefault(projectDir string) *Config {
	cfg, err := Load(Path(projectDir))
	if err != nil {
		return applyDefaults()
	}
	return cfg
}

// WriteDefault writes a default revgate.yaml with all fields populated
// and a comment header. Used by `revgate config init` when no config
// file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# revgate configuration
#
# gate:
#   script: Test runner path, relative to the hook's working directory
#   tools: Tool names that trigger the gate ([] disables gating)
#   timeout_seconds: Max test run time (0 = no timeout)
#   tail_chars: How much stdout/stderr to keep in audit records
#   skip_paths: Glob patterns; matching file targets skip the test run
#
# guidelines:
#   min_description: Edit descriptions shorter than this get flagged
#   large_change_chars: Change bodies larger than this get flagged
#   disabled: Rule names to turn off (short_description, large_change)
#
# ledger:
#   enabled: Record every decision to the hash-chained ledger
#   dir: Ledger directory, relative to the project root
#
# serve:
#   host: Live feed bind address (keep on loopback)
#   port: Live feed port

`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Gate: GateConfig{
			Script:         "scripts/run_make_test.sh",
			Tools:          []string{"Edit", "MultiEdit", "Write", "FilePatch"},
			TimeoutSeconds: 0,
			TailChars:      500,
			SkipPaths:      []string{},
		},
		Guidelines: GuidelineConfig{
			MinDescription:   10,
			LargeChangeChars: 8000,
			Disabled:         []string{},
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Dir:     ".claude/revgate/ledger",
		},
		Serve: ServeConfig{
			Host: "127.0.0.1",
			Port: 7333,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Gate.Script == "" {
		return fmt.Errorf("gate.script must not be empty")
	}
	if cfg.Gate.TimeoutSeconds < 0 {
		return fmt.Errorf("gate.timeout_seconds must be non-negative")
	}
	if cfg.Gate.TailChars < 0 {
		return fmt.Errorf("gate.tail_chars must be non-negative")
	}

	if cfg.Guidelines.MinDescription < 0 {
		return fmt.Errorf("guidelines.min_description must be non-negative")
	}
	if cfg.Guidelines.LargeChangeChars < 0 {
		return fmt.Errorf("guidelines.large_change_chars must be non-negative")
	}

	if cfg.Ledger.Enabled && cfg.Ledger.Dir == "" {
		return fmt.Errorf("ledger.dir must not be empty when the ledger is enabled")
	}

	if cfg.Serve.Host == "" {
		return fmt.Errorf("serve.host must not be empty")
	}
	if cfg.Serve.Port < 1 || cfg.Serve.Port > 65535 {
		return fmt.Errorf("serve.port %d out of range (1-65535)", cfg.Serve.Port)
	}

	return nil
}

// LedgerDir resolves the ledger directory against the project root.
func (c *Config) LedgerDir(projectDir string) string {
	if filepath.IsAbs(c.Ledger.Dir) {
		return c.Ledger.Dir
	}
	return filepath.Join(projectDir, c.Ledger.Dir)
}
