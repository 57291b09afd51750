package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Pipeline.MaxIterations)
	assert.Equal(t, 2, cfg.Pipeline.MaxStepAttempts)
	assert.Equal(t, 8, cfg.Pipeline.PassThreshold)
	assert.Equal(t, 3, cfg.Pipeline.RateLimitEnhancement)
	assert.Equal(t, 2, cfg.Pipeline.RateLimitValidation)
	assert.Equal(t, 3, cfg.Pipeline.SequentialTrigger)
	assert.Equal(t, 5.0, cfg.Pipeline.CatastrophicThreshold)
	assert.Equal(t, 8.0, cfg.Pipeline.IncrementalThreshold)
	assert.Contains(t, cfg.Pipeline.AndWords, "και")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero iterations",
			mutate:  func(c *Config) { c.Pipeline.MaxIterations = 0 },
			wantErr: "max_iterations",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Pipeline.PassThreshold = 11 },
			wantErr: "pass_threshold",
		},
		{
			name:    "missing reasoning URL",
			mutate:  func(c *Config) { c.Gateways.Reasoning.URL = "" },
			wantErr: "reasoning.url",
		},
		{
			name:    "zero enhancement limit",
			mutate:  func(c *Config) { c.Pipeline.RateLimitEnhancement = 0 },
			wantErr: "rate_limit_enhancement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
pipeline:
  max_iterations: 3
  pass_threshold: 7
gateways:
  reasoning:
    url: http://localhost:9999/v1
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.MaxIterations)
	assert.Equal(t, 7, cfg.Pipeline.PassThreshold)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Gateways.Reasoning.URL)
	// Unset fields keep defaults.
	assert.Equal(t, 2, cfg.Pipeline.MaxStepAttempts)
}

func TestLoadEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_iterations: 3\n"), 0644))

	t.Setenv("MAX_ITERATIONS", "7")
	t.Setenv("VALIDATION_DELAY_SECONDS", "1.5")
	t.Setenv("OPENROUTER_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.MaxIterations, "env overrides YAML")
	assert.Equal(t, 1500*time.Millisecond, cfg.Pipeline.ValidationDelay)
	assert.Equal(t, "test-key", cfg.Gateways.Reasoning.APIKey)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxIterations)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.MaxIterations = 4

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Pipeline.MaxIterations)
}
