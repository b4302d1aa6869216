package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvidersCommand_NoneConfigured(t *testing.T) {
	path, _ := writeConfig(t, "")

	out, err := runCLI(t, "providers", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "No tool providers configured\n", out)
}

func TestProvidersCommand_ReportsFailedProvider(t *testing.T) {
	path, _ := writeConfig(t, `, "providers": {"broken": {"transport": "stdio", "command": "/nonexistent/deedee-provider"}}`)

	out, err := runCLI(t, "providers", "--config", path, "--timeout", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "stdio")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "deedee "+GetVersion())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
