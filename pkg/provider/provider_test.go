package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "stdio ok", cfg: Config{ID: "a", Transport: TransportStdio, Command: "npx"}},
		{name: "websocket ok", cfg: Config{ID: "a", Transport: TransportWebsocket, URL: "ws://x"}},
		{name: "missing id", cfg: Config{Transport: TransportStdio, Command: "x"}, wantErr: "id is required"},
		{name: "bad transport", cfg: Config{ID: "a", Transport: "carrier-pigeon"}, wantErr: "unsupported transport"},
		{name: "stdio without command", cfg: Config{ID: "a", Transport: TransportStdio}, wantErr: "command is required"},
		{name: "sse without url", cfg: Config{ID: "a", Transport: TransportSSE}, wantErr: "url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := Connect(context.Background(), Config{ID: "a", Transport: TransportHTTP})
	require.Error(t, err)

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, "a", connectErr.Provider)
}

func TestNormalizeSchema(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, normalizeSchema(nil))
	})

	t.Run("garbage", func(t *testing.T) {
		assert.Equal(t, "object", normalizeSchema(json.RawMessage(`not json`))["type"])
	})

	t.Run("kept as is", func(t *testing.T) {
		raw := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
		schema := normalizeSchema(raw)
		assert.Equal(t, []any{"q"}, schema["required"])
		assert.Contains(t, schema["properties"], "q")
	})
}

func TestLifecycle(t *testing.T) {
	var l lifecycle
	assert.Equal(t, StateDisconnected, l.State())
	assert.ErrorIs(t, l.usable(), ErrDisconnected)

	l.set(StateConnected)
	assert.NoError(t, l.usable())

	assert.True(t, l.markClosed())
	assert.False(t, l.markClosed())

	l.set(StateConnected)
	assert.Equal(t, StateClosed, l.State())
}
