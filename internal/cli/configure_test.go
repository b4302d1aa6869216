package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "starter configuration")
	})

	t.Run("writes a loadable config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deedee.json")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

		out, err := runCLI(t, "configure", "--config", path, "--provider", "anthropic")
		require.NoError(t, err)
		assert.Contains(t, out, "ANTHROPIC_API_KEY")

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "${ANTHROPIC_API_KEY}")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, "claude-sonnet-4-5", cfg.Models.Deep.Model)
		assert.NoError(t, cfg.Validate())

		_, err = runCLI(t, "configure", "--config", path, "--provider", "anthropic")
		assert.ErrorContains(t, err, "already exists")
	})
}

func TestStarterConfig(t *testing.T) {
	for provider := range starterModels {
		cfg, err := starterConfig(provider)
		require.NoError(t, err, provider)
		assert.Equal(t, provider, cfg.Models.Fast.Provider)
		assert.Equal(t, provider, cfg.AI.Profiles[0].Provider)
	}

	_, err := starterConfig("llama")
	assert.Error(t, err)
}
