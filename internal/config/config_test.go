package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VRLFORGE_PROVIDER", "VRLFORGE_MODEL", "VRLFORGE_API_KEY",
		"VRLFORGE_RETRY_BUDGET", "VRLFORGE_SANDBOX_RUNNER",
		"VRLFORGE_STORE_PATH", "VRLFORGE_DEBUG",
		"OPENROUTER_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Loop.RetryBudget)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Loop.AttemptTimeout))
	assert.Equal(t, "docker", cfg.Sandbox.Runner)
	assert.Equal(t, 4, cfg.Sandbox.ConcurrencyLimit)
	assert.Equal(t, "openrouter", cfg.Proposer.Provider)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
loop:
  retry_budget: 3
  per_attempt_timeout: 10s
sandbox:
  runner: local
  binary_path: /usr/local/bin/vector
proposer:
  provider: gemini
  model: gemini-2.0-flash
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Loop.RetryBudget)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Loop.AttemptTimeout))
	assert.Equal(t, "local", cfg.Sandbox.Runner)
	assert.Equal(t, "/usr/local/bin/vector", cfg.Sandbox.BinaryPath)
	assert.Equal(t, "gemini", cfg.Proposer.Provider)
	assert.True(t, cfg.Debug)
	// unset fields keep defaults
	assert.Equal(t, 4, cfg.Sandbox.ConcurrencyLimit)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Loop.RetryBudget)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VRLFORGE_PROVIDER", "gemini")
	t.Setenv("VRLFORGE_RETRY_BUDGET", "7")
	t.Setenv("VRLFORGE_SANDBOX_RUNNER", "local")
	t.Setenv("VRLFORGE_DEBUG", "true")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Proposer.Provider)
	assert.Equal(t, 7, cfg.Loop.RetryBudget)
	assert.Equal(t, "local", cfg.Sandbox.Runner)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "from-env", cfg.Proposer.APIKey)
}

func TestExplicitKeyBeatsProviderKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("VRLFORGE_API_KEY", "explicit")
	t.Setenv("OPENROUTER_API_KEY", "provider")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Proposer.APIKey)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.Loop.RetryBudget = 0 }},
		{"zero timeout", func(c *Config) { c.Loop.AttemptTimeout = 0 }},
		{"bad runner", func(c *Config) { c.Sandbox.Runner = "qemu" }},
		{"zero concurrency", func(c *Config) { c.Sandbox.ConcurrencyLimit = 0 }},
		{"bad provider", func(c *Config) { c.Proposer.Provider = "telegraph" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
