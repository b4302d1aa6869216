package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "Stop a running deedee daemon")
		assert.Contains(t, out, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path, _ := writeConfig(t, "")

		_, err := runCLI(t, "stop", "--config", path)
		assert.ErrorContains(t, err, "not running")
	})
}
