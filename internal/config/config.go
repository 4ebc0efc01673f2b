// Package config loads the vrlforge configuration from YAML with
// environment overrides for secrets and deployment knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses human-readable durations ("30s", "2m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	td, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(td)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root configuration.
type Config struct {
	Loop     LoopConfig     `yaml:"loop"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Proposer ProposerConfig `yaml:"proposer"`
	Store    StoreConfig    `yaml:"store"`
	Debug    bool           `yaml:"debug"`
}

// LoopConfig bounds the regeneration loop.
type LoopConfig struct {
	RetryBudget    int      `yaml:"retry_budget"`
	AttemptTimeout Duration `yaml:"per_attempt_timeout"`
}

// SandboxConfig selects and bounds the execution environment.
type SandboxConfig struct {
	Runner           string `yaml:"runner"` // docker, local
	Image            string `yaml:"image"`
	BinaryPath       string `yaml:"binary_path"`
	ConcurrencyLimit int    `yaml:"concurrency_limit"`
}

// ProposerConfig selects the LLM backend.
type ProposerConfig struct {
	Provider string   `yaml:"provider"` // openrouter, gemini
	Model    string   `yaml:"model"`
	APIKey   string   `yaml:"api_key"`
	BaseURL  string   `yaml:"base_url"`
	Timeout  Duration `yaml:"timeout"`
}

// StoreConfig locates the session archive.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the standard configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Loop: LoopConfig{
			RetryBudget:    5,
			AttemptTimeout: Duration(30 * time.Second),
		},
		Sandbox: SandboxConfig{
			Runner:           "docker",
			Image:            "timberio/vector:latest-alpine",
			BinaryPath:       "vector",
			ConcurrencyLimit: 4,
		},
		Proposer: ProposerConfig{
			Provider: "openrouter",
			Timeout:  Duration(2 * time.Minute),
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".vrlforge", "sessions.db"),
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; env-only setups
// are supported.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets the environment override the file. API keys are expected
// from the environment rather than from checked-in YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("VRLFORGE_PROVIDER"); v != "" {
		c.Proposer.Provider = v
	}
	if v := os.Getenv("VRLFORGE_MODEL"); v != "" {
		c.Proposer.Model = v
	}
	if v := os.Getenv("VRLFORGE_API_KEY"); v != "" {
		c.Proposer.APIKey = v
	}
	if c.Proposer.APIKey == "" {
		switch c.Proposer.Provider {
		case "gemini":
			c.Proposer.APIKey = os.Getenv("GEMINI_API_KEY")
		default:
			c.Proposer.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}
	if v := os.Getenv("VRLFORGE_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Loop.RetryBudget = n
		}
	}
	if v := os.Getenv("VRLFORGE_SANDBOX_RUNNER"); v != "" {
		c.Sandbox.Runner = v
	}
	if v := os.Getenv("VRLFORGE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("VRLFORGE_DEBUG"); v == "1" || v == "true" {
		c.Debug = true
	}
}

// Validate rejects configurations the components would refuse anyway, with
// better messages.
func (c *Config) Validate() error {
	if c.Loop.RetryBudget < 1 {
		return fmt.Errorf("loop.retry_budget must be at least 1, got %d", c.Loop.RetryBudget)
	}
	if c.Loop.AttemptTimeout <= 0 {
		return fmt.Errorf("loop.per_attempt_timeout must be positive, got %v", time.Duration(c.Loop.AttemptTimeout))
	}
	switch c.Sandbox.Runner {
	case "docker", "local":
	default:
		return fmt.Errorf("sandbox.runner must be docker or local, got %q", c.Sandbox.Runner)
	}
	if c.Sandbox.ConcurrencyLimit < 1 {
		return fmt.Errorf("sandbox.concurrency_limit must be at least 1, got %d", c.Sandbox.ConcurrencyLimit)
	}
	switch c.Proposer.Provider {
	case "openrouter", "gemini":
	default:
		return fmt.Errorf("proposer.provider must be openrouter or gemini, got %q", c.Proposer.Provider)
	}
	return nil
}
