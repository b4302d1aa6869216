package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args. Flag values persist on the
// package-level commands between runs, so they are reset first.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(GetRootCmd())
	t.Cleanup(func() { resetFlags(GetRootCmd()) })

	cmd := GetRootCmd()
	cmd.SetArgs(args)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return output.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

func commandNames() map[string]bool {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	return names
}

func TestCommandsRegistered(t *testing.T) {
	names := commandNames()
	for _, name := range []string{"start", "chat", "stop", "status", "jobs", "providers", "configure", "version"} {
		assert.True(t, names[name], name)
	}
}

// writeConfig writes a minimal valid config under a temp data dir.
func writeConfig(t *testing.T, extra string) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	path = filepath.Join(dir, "deedee.json")
	body := `{
		"data_dir": ` + strconv.Quote(dataDir) + `,
		"logging": {"console": false},
		"ai": {"profiles": [{"id": "g", "provider": "gemini", "api_key": "k"}]}` + extra + `
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path, dataDir
}

func TestStartCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "start", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "Start the deedee daemon")
		assert.Contains(t, out, "--console")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deedee.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+t.TempDir()+`"}`), 0600))

		_, err := runCLI(t, "start", "--config", path)
		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("refuses when already running", func(t *testing.T) {
		path, dataDir := writeConfig(t, "")
		require.NoError(t, os.MkdirAll(dataDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "deedee.pid"), []byte(strconv.Itoa(os.Getpid())), 0644))

		_, err := runCLI(t, "start", "--config", path)
		assert.ErrorContains(t, err, "already running")
	})
}
