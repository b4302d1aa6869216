package toolexecutor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/federation"
	"github.com/diegosucaria/deedee-sub000/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(text string) channels.OutboundMessage {
	return channels.OutboundMessage{Kind: channels.KindTool, Text: text}
}

func recordingSend(sent *[]string) channels.SendFunc {
	var mu sync.Mutex
	return func(ctx context.Context, msg channels.OutboundMessage) error {
		mu.Lock()
		defer mu.Unlock()
		*sent = append(*sent, msg.ChatID+":"+msg.Text)
		return nil
	}
}

// stubConn serves a fixed tool list; calls answer "<provider>:<tool>".
type stubConn struct {
	mu      sync.Mutex
	id      string
	tools   []string
	state   provider.State
	callErr error
	result  *provider.Result
}

func (s *stubConn) ID() string                    { return s.id }
func (s *stubConn) Transport() provider.Transport { return provider.TransportWebsocket }
func (s *stubConn) State() provider.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
func (s *stubConn) ListTools(ctx context.Context) ([]provider.Tool, error) {
	var out []provider.Tool
	for _, name := range s.tools {
		out = append(out, provider.Tool{Name: name, Description: "remote " + name,
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}}})
	}
	return out, nil
}
func (s *stubConn) Call(ctx context.Context, name string, args map[string]any) (*provider.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &provider.Result{Text: s.id + ":" + name}, nil
}
func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = provider.StateClosed
	return nil
}

func startFederation(t *testing.T, conns ...*stubConn) *federation.Registry {
	t.Helper()
	byID := map[string]*stubConn{}
	var cfgs []provider.Config
	for _, c := range conns {
		c.state = provider.StateConnected
		byID[c.id] = c
		cfgs = append(cfgs, provider.Config{ID: c.id, Transport: provider.TransportWebsocket, URL: "ws://stub", Enabled: true})
	}
	reg := federation.New(federation.Options{
		Providers: cfgs,
		Connect: func(ctx context.Context, cfg provider.Config) (provider.Connection, error) {
			return byID[cfg.ID], nil
		},
	})
	require.NoError(t, reg.Start(context.Background()))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestToolExecutor_BuiltinWinsOverFederated(t *testing.T) {
	remote := &stubConn{id: "remote", tools: []string{"recall", "weather"}}
	te := New(Options{Federation: startFederation(t, remote)})

	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "recall",
		Description: "Built-in recall",
		Family:      FamilyMemory,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "builtin", nil
		},
	}))

	manifest := te.Manifest(context.Background())
	require.Len(t, manifest, 2)
	assert.Equal(t, Descriptor{Name: "recall", Description: "Built-in recall",
		Parameters: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		Source:     SourceBuiltin}, manifest[0])
	assert.Equal(t, "weather", manifest[1].Name)
	assert.Equal(t, "remote", manifest[1].Source)

	for i := 0; i < 3; i++ {
		result, err := te.Execute(context.Background(), "recall", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "builtin", result.Output)
	}

	result, err := te.Execute(context.Background(), "weather", map[string]interface{}{"city": "Lisbon"}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "remote:weather", result.Output)
}

func TestToolExecutor_FederatedFailures(t *testing.T) {
	remote := &stubConn{id: "remote", tools: []string{"weather"}}
	te := New(Options{Federation: startFederation(t, remote)})

	t.Run("unknown name", func(t *testing.T) {
		result, err := te.Execute(context.Background(), "forecast", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "tool not found: forecast", result.Error)
	})

	t.Run("provider error result", func(t *testing.T) {
		remote.mu.Lock()
		remote.result = &provider.Result{Text: "city unknown", IsError: true}
		remote.mu.Unlock()
		defer func() { remote.mu.Lock(); remote.result = nil; remote.mu.Unlock() }()

		result, err := te.Execute(context.Background(), "weather", nil, nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "city unknown", result.Error)
	})

	t.Run("provider lost", func(t *testing.T) {
		remote.mu.Lock()
		remote.callErr = errors.New("broken pipe")
		remote.state = provider.StateDisconnected
		remote.mu.Unlock()

		result, err := te.Execute(context.Background(), "weather", nil, nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, federation.ErrProviderUnavailable.Error())
	})
}

func TestToolExecutor_StructuredFederatedOutput(t *testing.T) {
	remote := &stubConn{id: "remote", tools: []string{"stats"},
		result: &provider.Result{Text: "{}", Structured: map[string]any{"count": 3}}}
	te := New(Options{Federation: startFederation(t, remote)})

	result, err := te.Execute(context.Background(), "stats", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 3}, result.Output)
}

func TestToolExecutor_Sanitize(t *testing.T) {
	remote := &stubConn{id: "remote", tools: []string{"weather"}}
	te := New(Options{Federation: startFederation(t, remote)})
	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "recall", Description: "x", Handler: noop}))

	// Federation manifest is only known after a refresh.
	te.Manifest(context.Background())

	assert.Equal(t, "recall", te.Sanitize("default_api.recall"))
	assert.Equal(t, "weather", te.Sanitize("remote.weather"))
	assert.Equal(t, "weather", te.Sanitize("functions.weather"))
}

func TestToolExecutor_PolicyHidesFederated(t *testing.T) {
	remote := &stubConn{id: "remote", tools: []string{"weather", "wipe_disk"}}
	te := New(Options{Federation: startFederation(t, remote), Policy: NewToolPolicy([]string{"wipe_*"})})

	manifest := te.Manifest(context.Background())
	require.Len(t, manifest, 1)
	assert.Equal(t, "weather", manifest[0].Name)

	result, err := te.Execute(context.Background(), "wipe_disk", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "disabled")
}
