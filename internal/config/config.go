// Package config holds the yaml-backed configuration for noema, split
// into per-concern files: llm.go for backend tiers, analysis.go for
// convergence thresholds and search budgets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	// StorePath is the sqlite knowledge store location.
	StorePath string `yaml:"store_path"`

	// InboxDir is watched by `noema watch` for dropped event files.
	InboxDir string `yaml:"inbox_dir"`

	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Search   SearchConfig   `yaml:"search"`
	Stakes   StakesConfig   `yaml:"stakes"`
}

// Default returns a complete configuration with sensible defaults,
// rooted at the given home directory.
func Default(home string) *Config {
	return &Config{
		StorePath: filepath.Join(home, "noema.db"),
		InboxDir:  filepath.Join(home, "inbox"),
		LLM:       DefaultLLMConfig(),
		Analysis:  DefaultAnalysisConfig(),
		Search:    DefaultSearchConfig(),
		Stakes:    DefaultStakesConfig(),
	}
}

// DefaultPath returns the standard config location, ~/.noema/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".noema", "config.yaml")
}

// Load reads configuration from path, fills gaps with defaults, and
// applies environment overrides. A missing file is not an error: the
// defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as yaml.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets environment variables win over file values.
// Only secrets and the store path are overridable; thresholds are not.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NOEMA_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("NOEMA_GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("NOEMA_STORE_PATH"); v != "" {
		c.StorePath = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	return nil
}
