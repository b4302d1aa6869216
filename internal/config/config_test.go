package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{{ID: "main", Provider: "gemini", APIKey: "AIza-test"}}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Agent.ProgressEvery)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 60, cfg.Scheduler.RetryBackoffSeconds)
	assert.Equal(t, "file", cfg.Scheduler.Backend)
	assert.NotEmpty(t, cfg.Scheduler.FailurePhrases)
	assert.NotEmpty(t, cfg.Agent.Notices.Stuck)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("requires a profile", func(t *testing.T) {
		err := DefaultConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one AI profile")
	})

	t.Run("tier provider must have a profile", func(t *testing.T) {
		cfg := validConfig()
		cfg.Models.Deep = TierConfig{Provider: "anthropic", Model: "claude-sonnet-4"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "models.deep")
	})

	t.Run("rejects unknown transport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers["home"] = ProviderConfig{Transport: "carrier-pigeon"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid transport")
	})

	t.Run("stdio needs a command", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers["fs"] = ProviderConfig{Transport: "stdio"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("network transports need a url", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers["ha"] = ProviderConfig{Transport: "websocket"}
		assert.Error(t, cfg.Validate())

		cfg.Providers["ha"] = ProviderConfig{Transport: "websocket", URL: "ws://localhost:8123/mcp"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown scheduler backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scheduler.Backend = "etcd"
		assert.Error(t, cfg.Validate())
	})
}

func TestProviderIsEnabled(t *testing.T) {
	off := false
	assert.True(t, ProviderConfig{}.IsEnabled())
	assert.False(t, ProviderConfig{Enabled: &off}.IsEnabled())
}

func TestExpandSecrets(t *testing.T) {
	t.Setenv("DEEDEE_TEST_TOKEN", "s3cr3t")
	t.Setenv("DEEDEE_TEST_KEY", "AIza-from-env")

	cfg := validConfig()
	cfg.AI.Profiles[0].APIKey = "${DEEDEE_TEST_KEY}"
	cfg.Providers["github"] = ProviderConfig{
		Transport: "stdio",
		Command:   "github-mcp",
		Args:      []string{"--price", "$5", "--token=${DEEDEE_TEST_TOKEN}"},
		Env:       map[string]string{"GITHUB_TOKEN": "${DEEDEE_TEST_TOKEN}"},
		Headers:   map[string]string{"Authorization": "Bearer ${DEEDEE_TEST_TOKEN}"},
	}

	cfg.ExpandSecrets()

	p := cfg.Providers["github"]
	assert.Equal(t, "AIza-from-env", cfg.AI.Profiles[0].APIKey)
	assert.Equal(t, "s3cr3t", p.Env["GITHUB_TOKEN"])
	assert.Equal(t, "Bearer s3cr3t", p.Headers["Authorization"])
	assert.Equal(t, []string{"--price", "$5", "--token=s3cr3t"}, p.Args)
}

func TestProviderIDsSorted(t *testing.T) {
	cfg := validConfig()
	cfg.Providers["zeta"] = ProviderConfig{}
	cfg.Providers["alpha"] = ProviderConfig{}
	assert.Equal(t, []string{"alpha", "zeta"}, cfg.ProviderIDs())
}
