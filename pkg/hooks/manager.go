// Package hooks runs operator shell scripts when the daemon hits lifecycle
// events that need a human: failed turns, exhausted jobs, providers that
// would not connect.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle events a hook can subscribe to.
const (
	EventDaemonStarted         = "daemon.started"
	EventDaemonStopping        = "daemon.stopping"
	EventTurnFailed            = "turn.failed"
	EventJobEscalated          = "job.escalated"
	EventProviderConnectFailed = "provider.connect_failed"
)

var knownEvents = map[string]bool{
	EventDaemonStarted:         true,
	EventDaemonStopping:        true,
	EventTurnFailed:            true,
	EventJobEscalated:          true,
	EventProviderConnectFailed: true,
}

const (
	defaultTimeout = 10 * time.Second
	envPrefix      = "DEEDEE_HOOK_"
)

// Hook binds a shell script to one event.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for lifecycle events. A nil Manager
// is valid and does nothing.
type Manager struct {
	enabled bool
	logger  zerolog.Logger
	byEvent map[string][]Hook
	pending sync.WaitGroup
}

// NewManager validates the configured hooks and indexes them by event.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		enabled: cfg.Enabled,
		logger:  cfg.Logger.With().Str("component", "hooks").Logger(),
		byEvent: make(map[string][]Hook),
	}
	if !cfg.Enabled {
		return m, nil
	}

	for i, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		hook.Event = strings.TrimSpace(hook.Event)
		if !knownEvents[hook.Event] {
			return nil, fmt.Errorf("hook %d: unknown event %q", i, hook.Event)
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook %d: script is required for event %q", i, hook.Event)
		}
		if strings.TrimSpace(hook.ID) == "" {
			hook.ID = fmt.Sprintf("%s#%d", hook.Event, i)
		}
		if hook.Timeout <= 0 {
			hook.Timeout = defaultTimeout
		}
		m.byEvent[hook.Event] = append(m.byEvent[hook.Event], hook)
	}
	return m, nil
}

// Has reports whether any hook listens for event.
func (m *Manager) Has(event string) bool {
	if m == nil || !m.enabled {
		return false
	}
	return len(m.byEvent[event]) > 0
}

// Trigger runs every hook for event in order and waits for them.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	if !m.Has(event) {
		return nil
	}

	var errs []error
	for _, hook := range m.byEvent[event] {
		if err := m.run(ctx, hook, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fire runs the hooks for event in the background. Failures are logged.
func (m *Manager) Fire(ctx context.Context, event string, data map[string]interface{}) {
	if !m.Has(event) {
		return
	}
	ctx = context.WithoutCancel(ctx)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		if err := m.Trigger(ctx, event, data); err != nil {
			m.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
		}
	}()
}

// Wait blocks until background hooks have finished.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.pending.Wait()
}

func (m *Manager) run(ctx context.Context, hook Hook, data map[string]interface{}) error {
	runCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = hookEnvironment(hook.Event, data)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if text != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hook.ID, err, text)
		}
		return fmt.Errorf("hook %s failed: %w", hook.ID, err)
	}

	m.logger.Debug().
		Str("event", hook.Event).
		Str("hook_id", hook.ID).
		Dur("duration", time.Since(start)).
		Str("output", text).
		Msg("Hook executed")
	return nil
}

// hookEnvironment passes the event as DEEDEE_HOOK_EVENT and each data key
// as DEEDEE_HOOK_<KEY>, in sorted key order.
func hookEnvironment(event string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, envPrefix+"EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, envPrefix+envKey(key)+"="+fmt.Sprint(data[key]))
	}
	return env
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return '_'
		}
	}, key)
}
