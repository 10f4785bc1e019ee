package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "balatrollm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		loader := NewLoader("")
		loader.lookupEnv = envFrom(nil)

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Seed, cfg.Seed)
		assert.Equal(t, 12346, cfg.Port)
		assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
		assert.Equal(t, "auto", cfg.ModelConfig["tool_choice"])
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
		assert.ErrorContains(t, err, "config file not found")
	})

	t.Run("yaml scalars and lists", func(t *testing.T) {
		path := writeYAML(t, `
model: openai/gpt-4o
seed: [AAAAAAA, BBBBBBB]
deck: blue
parallel: 2
retry:
  base_delay: 250ms
  max_attempts: 5
session:
  failure_threshold: 4
model_config:
  tool_choice: required
`)
		loader := NewLoader(path)
		loader.lookupEnv = envFrom(nil)

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"openai/gpt-4o"}, cfg.Model)
		assert.Equal(t, []string{"AAAAAAA", "BBBBBBB"}, cfg.Seed)
		assert.Equal(t, []string{"BLUE"}, cfg.Deck)
		assert.Equal(t, 2, cfg.Parallel)
		assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, 3, cfg.Retry.MaxConsecutiveTimeouts)
		assert.Equal(t, 4, cfg.Session.FailureThreshold)
		assert.Equal(t, "required", cfg.ModelConfig["tool_choice"])
		assert.Contains(t, cfg.ModelConfig, "extra_body")
	})

	t.Run("precedence env < yaml < flags", func(t *testing.T) {
		path := writeYAML(t, "host: yaml-host\nport: 20000\n")
		loader := NewLoader(path)
		loader.lookupEnv = envFrom(map[string]string{
			"BALATROLLM_HOST":               "env-host",
			"BALATROLLM_PORT":               "30000",
			"BALATROLLM_MODEL":              "openai/a,anthropic/b",
			"BALATROLLM_API_KEY":            "sk-env",
			"BALATROLLM_RETRY_MAX_ATTEMPTS": "7",
		})

		fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
		fs.Int("port", 0, "")
		fs.String("api-key", "", "")
		fs.StringSlice("seed", nil, "")
		loader.BindFlags(fs)
		require.NoError(t, fs.Parse([]string{"--port", "40000", "--seed", "X,Y"}))

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "yaml-host", cfg.Host)
		assert.Equal(t, 40000, cfg.Port)
		assert.Equal(t, []string{"openai/a", "anthropic/b"}, cfg.Model)
		assert.Equal(t, "sk-env", cfg.APIKey)
		assert.Equal(t, 7, cfg.Retry.MaxAttempts)
		assert.Equal(t, []string{"X", "Y"}, cfg.Seed)
	})
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BALATROLLM_BASE_URL", envName("base_url"))
	assert.Equal(t, "BALATROLLM_SESSION_HISTORY_WINDOW", envName("session.history_window"))
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "/path/to/config.yaml", NewLoader("/path/to/config.yaml").GetConfigPath())
}
