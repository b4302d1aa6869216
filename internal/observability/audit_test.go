package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))

	RecordToolAudit(context.Background(), "remember_fact", "chat-1", "success", map[string]interface{}{"source": "builtin"})
	RecordJobAudit(context.Background(), "morning-brief", "escalated", "chat-1", nil)
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"execute:remember_fact"`)
	assert.Contains(t, string(data), `"action":"escalated:morning-brief"`)
	assert.Contains(t, string(data), `"chat_id":"chat-1"`)
}

func TestMetricsHandler(t *testing.T) {
	RecordTurn("fast", "completed", 0, 2)
	RecordToolExecution("remember_fact", "builtin", 0, true)
	assert.NotNil(t, MetricsHandler())
}
