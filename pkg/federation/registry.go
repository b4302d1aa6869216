// Package federation merges the tools of independently connected providers
// into one dispatchable namespace.
//
// The registry owns its connections from Start to Close. Every Refresh builds a
// fresh immutable Manifest and swaps it in atomically, so a dispatch never
// observes a half-built index. Dispatch is exact-match only: callers strip any
// hallucinated namespace prefix before asking.
package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrToolNotFound is returned when no connected provider declares the name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrProviderUnavailable is returned when the owning provider is gone.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("federation registry closed")
)

const defaultRefreshTimeout = 10 * time.Second

// Connector opens one provider connection.
type Connector func(ctx context.Context, cfg provider.Config) (provider.Connection, error)

// Options configures a Registry.
type Options struct {
	Providers []provider.Config
	// Connect defaults to provider.Connect.
	Connect Connector
	// RefreshTimeout bounds each provider's ListTools during Refresh.
	RefreshTimeout time.Duration
	// OnConnectFailure is called once per provider that fails to connect.
	OnConnectFailure func(providerID string, err error)
	Logger           *zerolog.Logger
}

// ProviderStatus is a point-in-time view of one configured provider.
type ProviderStatus struct {
	ID        string             `json:"id"`
	Transport provider.Transport `json:"transport"`
	State     provider.State     `json:"state"`
	Tools     int                `json:"tools"`
	Error     string             `json:"error,omitempty"`
}

// Registry owns zero or more provider connections.
type Registry struct {
	opts   Options
	logger zerolog.Logger

	mu          sync.RWMutex
	conns       map[string]provider.Connection
	connectErrs map[string]error
	closed      bool

	manifest atomic.Pointer[Manifest]

	// refreshGen numbers snapshots as they start; swapMu guards storedGen so
	// a slow refresh never replaces a manifest built from a newer snapshot.
	refreshGen atomic.Uint64
	swapMu     sync.Mutex
	storedGen  uint64
}

// New creates a registry. Nothing is connected until Start.
func New(opts Options) *Registry {
	if opts.Connect == nil {
		opts.Connect = provider.Connect
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	logger := log.With().Str("component", "federation").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "federation").Logger()
	}

	r := &Registry{
		opts:        opts,
		logger:      logger,
		conns:       make(map[string]provider.Connection),
		connectErrs: make(map[string]error),
	}
	r.manifest.Store(emptyManifest())
	return r
}

// Start connects every enabled provider concurrently and builds the first
// manifest. A provider that fails to connect is logged and omitted; Start
// only fails when the registry is already closed.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	var wg sync.WaitGroup
	for _, cfg := range r.opts.Providers {
		if !cfg.Enabled {
			r.logger.Debug().Str("provider", cfg.ID).Msg("Provider disabled, skipping")
			continue
		}
		wg.Add(1)
		go func(cfg provider.Config) {
			defer wg.Done()
			r.connect(ctx, cfg)
		}(cfg)
	}
	wg.Wait()

	_, err := r.Refresh(ctx)
	return err
}

func (r *Registry) connect(ctx context.Context, cfg provider.Config) {
	conn, err := r.opts.Connect(ctx, cfg)
	if err != nil {
		r.logger.Warn().Err(err).Str("provider", cfg.ID).Str("transport", string(cfg.Transport)).
			Msg("Provider connect failed, omitting")
		observability.RecordProviderFailure(cfg.ID, "connect")
		observability.SetProviderConnected(cfg.ID, string(cfg.Transport), false)

		r.mu.Lock()
		r.connectErrs[cfg.ID] = err
		r.mu.Unlock()

		if r.opts.OnConnectFailure != nil {
			r.opts.OnConnectFailure(cfg.ID, err)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = conn.Close()
		return
	}
	r.conns[cfg.ID] = conn
	delete(r.connectErrs, cfg.ID)
	observability.SetProviderConnected(cfg.ID, string(cfg.Transport), true)
	r.logger.Info().Str("provider", cfg.ID).Str("transport", string(cfg.Transport)).Msg("Provider connected")
}

// Refresh re-queries every connected provider and swaps in a new manifest.
// A provider whose listing fails is left out of this manifest only. When
// refreshes overlap, the one that started last wins regardless of which
// finishes first; a superseded refresh returns the current manifest.
func (r *Registry) Refresh(ctx context.Context) (*Manifest, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	gen := r.refreshGen.Add(1)
	conns := make([]provider.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	listings := make([][]provider.Tool, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn provider.Connection) {
			defer wg.Done()
			listCtx, cancel := context.WithTimeout(ctx, r.opts.RefreshTimeout)
			defer cancel()

			tools, err := conn.ListTools(listCtx)
			if err != nil {
				r.logger.Warn().Err(err).Str("provider", conn.ID()).Msg("Provider tool listing failed, omitting from manifest")
				observability.RecordProviderFailure(conn.ID(), "list")
				if conn.State() != provider.StateConnected {
					observability.SetProviderConnected(conn.ID(), string(conn.Transport()), false)
				}
				return
			}
			listings[i] = tools
		}(i, conn)
	}
	wg.Wait()

	var all []provider.Tool
	for i, tools := range listings {
		for _, tool := range tools {
			// Trust the registry's id over whatever the connection stamped.
			tool.Provider = conns[i].ID()
			all = append(all, tool)
		}
	}

	m := buildManifest(all, func(name, winner, loser string) {
		r.logger.Warn().Str("tool", name).Str("provider", winner).Str("shadowed", loser).
			Msg("Tool name collision across providers")
	})

	r.swapMu.Lock()
	defer r.swapMu.Unlock()
	if gen < r.storedGen {
		r.logger.Debug().Uint64("generation", gen).Msg("Discarding superseded manifest")
		return r.manifest.Load(), nil
	}
	r.storedGen = gen
	r.manifest.Store(m)
	observability.SetManifestTools(m.Len())
	return m, nil
}

// Manifest returns the current manifest. It is never nil.
func (r *Registry) Manifest() *Manifest {
	return r.manifest.Load()
}

// Dispatch calls name on the provider that owns it in the current manifest.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (*provider.Result, error) {
	tool, ok := r.Manifest().Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	r.mu.RLock()
	conn, ok := r.conns[tool.Provider]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok || conn.State() != provider.StateConnected {
		return nil, fmt.Errorf("%w: %s (tool %s)", ErrProviderUnavailable, tool.Provider, name)
	}

	result, err := conn.Call(ctx, name, args)
	if err != nil {
		observability.RecordProviderFailure(tool.Provider, "call")
		if errors.Is(err, provider.ErrDisconnected) || errors.Is(err, provider.ErrClosed) ||
			conn.State() != provider.StateConnected {
			observability.SetProviderConnected(tool.Provider, string(conn.Transport()), false)
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, tool.Provider, err)
		}
		return nil, err
	}
	return result, nil
}

// Providers reports every configured provider, connected or not, sorted by id.
func (r *Registry) Providers() []ProviderStatus {
	counts := r.Manifest().countByProvider()

	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(r.opts.Providers))
	for _, cfg := range r.opts.Providers {
		status := ProviderStatus{
			ID:        cfg.ID,
			Transport: cfg.Transport,
			State:     provider.StateDisconnected,
		}
		if conn, ok := r.conns[cfg.ID]; ok {
			status.State = conn.State()
			status.Tools = counts[cfg.ID]
		}
		if err, ok := r.connectErrs[cfg.ID]; ok {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Close closes every connection. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]provider.Connection)
	r.mu.Unlock()

	var errs []error
	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		observability.SetProviderConnected(id, string(conn.Transport()), false)
	}
	r.manifest.Store(emptyManifest())
	return errors.Join(errs...)
}
