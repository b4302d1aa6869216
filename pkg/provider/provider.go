// Package provider connects to one external tool source and exposes its
// discover and call primitives behind a transport-agnostic Connection.
//
// Local subprocesses (stdio) and network endpoints (sse, http) speak MCP through
// mark3labs/mcp-go. Persistent websocket endpoints speak JSON-RPC 2.0 directly.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Transport names the wire a provider is reached over.
type Transport string

const (
	TransportStdio     Transport = "stdio"
	TransportSSE       Transport = "sse"
	TransportHTTP      Transport = "http"
	TransportWebsocket Transport = "websocket"
)

// Valid reports whether t is a supported transport.
func (t Transport) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportHTTP, TransportWebsocket:
		return true
	}
	return false
}

// State is the lifecycle state of a connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

const defaultTimeout = 30 * time.Second

// ClientName is announced to providers during the initialize handshake.
const ClientName = "deedee"

// ClientVersion is announced alongside ClientName.
var ClientVersion = "dev"

var (
	// ErrClosed is returned by calls on a closed connection.
	ErrClosed = errors.New("provider connection closed")
	// ErrDisconnected is returned when the transport went away under a live connection.
	ErrDisconnected = errors.New("provider disconnected")
)

// Config describes how to reach one provider.
type Config struct {
	ID        string
	Transport Transport
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
	Enabled   bool
	Timeout   time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// Validate checks that the transport has the parameters it needs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("provider id is required")
	}
	if !c.Transport.Valid() {
		return fmt.Errorf("provider %s: unsupported transport %q", c.ID, c.Transport)
	}
	if c.Transport == TransportStdio {
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("provider %s: command is required for stdio", c.ID)
		}
		return nil
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("provider %s: url is required for %s", c.ID, c.Transport)
	}
	return nil
}

// environ returns the process environment overlaid with the provider env.
func (c Config) environ() []string {
	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Tool is one callable tool as declared by a provider, already translated to
// the manifest shape.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Provider    string         `json:"provider"`
}

// Result is a normalized tool call result.
type Result struct {
	Text       string `json:"text,omitempty"`
	Structured any    `json:"structured,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Connection is a live link to one provider.
type Connection interface {
	ID() string
	Transport() Transport
	State() State
	ListTools(ctx context.Context) ([]Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (*Result, error)
	Close() error
}

// ConnectError wraps any failure to bring a provider up.
type ConnectError struct {
	Provider  string
	Transport Transport
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect provider %s (%s): %v", e.Provider, e.Transport, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Connect opens the transport named by cfg and completes the handshake.
// The handshake is bounded by cfg.Timeout.
func Connect(ctx context.Context, cfg Config) (Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConnectError{Provider: cfg.ID, Transport: cfg.Transport, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	var (
		conn Connection
		err  error
	)
	switch cfg.Transport {
	case TransportWebsocket:
		conn, err = dialWebsocket(ctx, cfg)
	default:
		conn, err = dialMCP(ctx, cfg)
	}
	if err != nil {
		return nil, &ConnectError{Provider: cfg.ID, Transport: cfg.Transport, Err: err}
	}
	return conn, nil
}

// lifecycle tracks connection state shared by every transport.
type lifecycle struct {
	mu    sync.RWMutex
	state State
}

func (l *lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == "" {
		return StateDisconnected
	}
	return l.state
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	l.state = s
}

// markClosed reports whether this call performed the transition.
func (l *lifecycle) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	l.state = StateClosed
	return true
}

func (l *lifecycle) usable() error {
	switch l.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrDisconnected
	}
}

// normalizeSchema turns a native input schema into an object schema. A missing
// or unparsable schema becomes an empty object schema.
func normalizeSchema(raw json.RawMessage) map[string]any {
	schema := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
			schema = map[string]any{}
		}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if schema["type"] == "object" {
		if _, ok := schema["properties"]; !ok {
			schema["properties"] = map[string]any{}
		}
	}
	return schema
}
