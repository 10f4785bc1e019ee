package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.Model)
	assert.Equal(t, []string{"AAAAAAA"}, cfg.Seed)
	assert.Equal(t, []string{"RED"}, cfg.Deck)
	assert.Equal(t, []string{"WHITE"}, cfg.Stake)
	assert.Equal(t, []string{"default"}, cfg.Strategy)
	assert.Equal(t, 1, cfg.Parallel)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 12346, cfg.Port)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 240*time.Second, cfg.Retry.PerAttemptTimeout)
	assert.Equal(t, 3, cfg.Session.FailureThreshold)
	assert.Equal(t, 10, cfg.Session.HistoryWindow)
	assert.Equal(t, 1, cfg.ModelConfig["seed"])
}

func TestDerivedConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Parallel = 4
	cfg.PortStride = 2
	cfg.Model = []string{"openai/gpt-4o"}
	cfg.Seed = []string{"A", "B"}
	cfg.Strategy = []string{"default", "aggressive"}

	pc := cfg.PoolConfig()
	assert.Equal(t, 4, pc.Size)
	assert.Equal(t, []int{12346, 12348, 12350, 12352}, pc.Ports())

	ec := cfg.ExecutorConfig()
	assert.Equal(t, 4, ec.Parallelism)
	assert.Equal(t, cfg.Retry.MaxAttempts, ec.Retry.MaxAttempts)
	assert.Equal(t, cfg.Session.MaxStalls, ec.Session.MaxStalls)
	require.NoError(t, ec.Validate())

	assert.Len(t, cfg.Tasks(), 4)
	assert.Equal(t, "openai", cfg.ProviderConfig().Kind)
}

func TestStringRedactsAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "sk-or-v1-secret"

	out := cfg.String()
	assert.NotContains(t, out, "sk-or-v1-secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "sk-or-v1-secret", cfg.APIKey)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, "1s", back["retry"].(map[string]any)["base_delay"])
}
