package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRun(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))
	loop := NewEventLoop(d)
	loop.interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop")
	}
}

func TestEventLoop_SyncsDirtyVault(t *testing.T) {
	cfg := testConfig(t)
	d, _ := createTestDaemon(t, cfg)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Vault.Path, "plants.md"), []byte("# Plants\n\nWater the fern on Sundays."), 0644))

	loop := NewEventLoop(d)
	loop.processTasks(context.Background())

	status := d.vault.Status()
	assert.False(t, status.IsDirty)
	assert.Equal(t, 1, status.TotalFiles)

	// Clean vault: nothing to do.
	loop.processTasks(context.Background())
	assert.Equal(t, 1, d.vault.Status().TotalFiles)
}

func TestEventLoopHandleShutdown(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))
	NewEventLoop(d).HandleShutdown()
}
