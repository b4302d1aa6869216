package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, hooks ...Hook) *Manager {
	t.Helper()
	m, err := NewManager(Config{Enabled: true, Logger: zerolog.Nop(), Hooks: hooks})
	require.NoError(t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Enabled: true, Hooks: []Hook{{Event: "job.exploded", Script: "true", Enabled: true}}})
	assert.ErrorContains(t, err, "unknown event")

	_, err = NewManager(Config{Enabled: true, Hooks: []Hook{{Event: EventTurnFailed, Script: "  ", Enabled: true}}})
	assert.ErrorContains(t, err, "script is required")

	// Disabled hooks are not validated.
	m, err := NewManager(Config{Enabled: true, Hooks: []Hook{{Event: "bogus", Enabled: false}}})
	require.NoError(t, err)
	assert.False(t, m.Has("bogus"))

	var nilManager *Manager
	assert.False(t, nilManager.Has(EventTurnFailed))
	assert.NoError(t, nilManager.Trigger(context.Background(), EventTurnFailed, nil))
	nilManager.Fire(context.Background(), EventTurnFailed, nil)
	nilManager.Wait()
}

func TestTrigger_PassesEventData(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")
	m := newManager(t, Hook{
		ID:      "escalation",
		Event:   EventJobEscalated,
		Script:  `echo "$DEEDEE_HOOK_EVENT:$DEEDEE_HOOK_JOB:$DEEDEE_HOOK_RETRY_COUNT" > ` + out,
		Enabled: true,
	})

	require.NoError(t, m.Trigger(context.Background(), EventJobEscalated, map[string]interface{}{
		"job":         "pay-rent",
		"retry-count": 2,
	}))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "job.escalated:pay-rent:2\n", string(content))
}

func TestTrigger_JoinsErrors(t *testing.T) {
	m := newManager(t,
		Hook{ID: "fail-1", Event: EventTurnFailed, Script: "exit 2", Enabled: true},
		Hook{ID: "fail-2", Event: EventTurnFailed, Script: "echo nope; exit 3", Enabled: true},
	)

	err := m.Trigger(context.Background(), EventTurnFailed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook fail-1 failed")
	assert.Contains(t, err.Error(), "hook fail-2 failed")
	assert.Contains(t, err.Error(), "nope")
}

func TestTrigger_Timeout(t *testing.T) {
	m := newManager(t, Hook{Event: EventProviderConnectFailed, Script: "sleep 1", Enabled: true, Timeout: 30 * time.Millisecond})

	err := m.Trigger(context.Background(), EventProviderConnectFailed, nil)
	require.Error(t, err)
	assert.True(t,
		strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "signal: killed"),
		"expected timeout-related error, got: %v", err,
	)
	assert.Contains(t, err.Error(), "provider.connect_failed#0")
}

func TestFire_RunsInBackground(t *testing.T) {
	out := filepath.Join(t.TempDir(), "fired.txt")
	m := newManager(t, Hook{Event: EventTurnFailed, Script: "echo $DEEDEE_HOOK_CHAT_ID > " + out, Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	m.Fire(ctx, EventTurnFailed, map[string]interface{}{"chat_id": "chat-9"})
	// Cancelling the caller must not kill the hook.
	cancel()
	m.Wait()

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "chat-9\n", string(content))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "CHAT_ID", envKey("chat_id"))
	assert.Equal(t, "RETRY_COUNT", envKey(" retry-count "))
	assert.Equal(t, "UNKNOWN", envKey(""))
}
