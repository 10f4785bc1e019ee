package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/harun/balatrollm/pkg/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	t.Cleanup(func() {
		dryRun = false
		cfgFile = ""
	})

	err := cmd.Execute()
	return output.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "balatrollm version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "BalatroLLM")
		assert.Contains(t, out, "--dry-run")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"run", "tasks", "config", "strategies", "version"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "balatrollm version "+GetVersion()+"\n", out)
}

func TestTasksCommand(t *testing.T) {
	out, err := execute(t, "tasks", "--model", "openai/gpt-4o", "--seed", "AAAAAAA,BBBBBBB", "--deck", "blue")
	require.NoError(t, err)

	assert.Contains(t, out, "2 tasks")
	assert.Contains(t, out, "[1/2] BLUE | WHITE | AAAAAAA | default | openai/gpt-4o")
	assert.Contains(t, out, "[2/2] BLUE | WHITE | BBBBBBB | default | openai/gpt-4o")
}

func TestRunDryRun(t *testing.T) {
	out, err := execute(t, "run", "--dry-run", "--model", "anthropic/claude", "--stake", "GOLD")
	require.NoError(t, err)
	assert.Contains(t, out, "1 tasks")
	assert.Contains(t, out, "RED | GOLD | AAAAAAA | default | anthropic/claude")
}

func TestConfigShowRedactsKey(t *testing.T) {
	out, err := execute(t, "config", "show", "--api-key", "sk-or-v1-verysecret", "--parallel", "3")
	require.NoError(t, err)

	assert.NotContains(t, out, "verysecret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "parallel: 3")
}

func TestStrategiesList(t *testing.T) {
	out, err := execute(t, "strategies", "list")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "default"))
	assert.Contains(t, out, "[baseline]")
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestResultsEmptyIndex(t *testing.T) {
	out, err := execute(t, "results", "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No results\n", out)
}

func TestPrintEntries(t *testing.T) {
	out := &bytes.Buffer{}
	printEntries(out, []collector.Entry{{
		Model: "openai/gpt-4o", Seed: "AAAAAAA", Deck: "RED", Stake: "WHITE", Strategy: "default",
		Outcome: "completed", Won: true, FinalAnte: 8, FinalRound: 24,
		StartedAt: time.Now(), Duration: 90 * time.Second,
	}})
	assert.Contains(t, out.String(), "| RED | WHITE | AAAAAAA | default | openai/gpt-4o | won | ante 8 round 24 | 1m30s")
}
