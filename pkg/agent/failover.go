package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultMaxAttempts   = 4
	defaultRetryBase     = time.Second
	defaultCooldownStep  = time.Minute
	defaultCooldownLimit = 10 * time.Minute
)

// FailoverOptions configures a FailoverClient.
type FailoverOptions struct {
	Profiles []AuthProfile
	Factory  ClientFactory
	Logger   zerolog.Logger
	// MaxAttempts per profile; retries wait RetryBase, 2x, 4x...
	MaxAttempts int
	RetryBase   time.Duration
	// CooldownStep is multiplied by the consecutive failure count.
	CooldownStep  time.Duration
	CooldownLimit time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type profileState struct {
	profile       AuthProfile
	client        ModelClient
	failures      int
	cooldownUntil time.Time
}

// FailoverClient tries auth profiles by priority. Transient errors are
// retried on the same profile; a profile that keeps failing cools down and
// the next one is tried.
type FailoverClient struct {
	opts     FailoverOptions
	logger   zerolog.Logger
	mu       sync.Mutex
	profiles []*profileState
}

// NewFailoverClient validates the profiles and sorts them by priority
// (lower first, config order on ties).
func NewFailoverClient(opts FailoverOptions) (*FailoverClient, error) {
	if len(opts.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if opts.Factory == nil {
		opts.Factory = &ProviderFactory{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.CooldownStep <= 0 {
		opts.CooldownStep = defaultCooldownStep
	}
	if opts.CooldownLimit <= 0 {
		opts.CooldownLimit = defaultCooldownLimit
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}

	states := make([]*profileState, 0, len(opts.Profiles))
	seen := map[string]bool{}
	for _, p := range opts.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("auth profile id is required")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate auth profile %q", p.ID)
		}
		seen[p.ID] = true
		states = append(states, &profileState{profile: p})
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].profile.Priority < states[j].profile.Priority
	})

	return &FailoverClient{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "model_failover").Logger(),
		profiles: states,
	}, nil
}

// Provider returns the provider of the preferred profile.
func (f *FailoverClient) Provider() string {
	return f.profiles[0].profile.Provider
}

// Generate calls the first usable profile. The profile's model fills in
// request.Model when the request leaves it empty.
func (f *FailoverClient) Generate(ctx context.Context, request ModelRequest) (*ModelResponse, error) {
	logger := tracing.LoggerFromContext(ctx, f.logger)

	var lastErr error
	tried := 0
	for _, state := range f.candidates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		client, err := f.clientFor(ctx, state)
		if err != nil {
			logger.Warn().Str("profileId", state.profile.ID).Err(err).Msg("Failed to create model client")
			lastErr = err
			f.markFailure(state)
			continue
		}
		tried++

		req := request
		if req.Model == "" {
			req.Model = state.profile.Model
		}

		resp, err := f.callWithRetry(ctx, client, state.profile, req)
		if err == nil {
			f.markSuccess(state)
			return resp, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = err
		f.markFailure(state)
		logger.Warn().Str("profileId", state.profile.ID).Err(err).Msg("Auth profile failed")
	}

	if tried == 0 && lastErr == nil {
		lastErr = errors.New("every profile is cooling down")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// candidates returns profiles not cooling down, in priority order. When
// all are cooling down the one that recovers first is returned alone.
func (f *FailoverClient) candidates() []*profileState {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.opts.now()
	var ready []*profileState
	var soonest *profileState
	for _, s := range f.profiles {
		if now.Before(s.cooldownUntil) {
			observability.SetProfileCooldown(s.profile.ID, true)
			if soonest == nil || s.cooldownUntil.Before(soonest.cooldownUntil) {
				soonest = s
			}
			continue
		}
		ready = append(ready, s)
	}
	if len(ready) == 0 && soonest != nil {
		return []*profileState{soonest}
	}
	return ready
}

func (f *FailoverClient) clientFor(ctx context.Context, state *profileState) (ModelClient, error) {
	f.mu.Lock()
	client := state.client
	f.mu.Unlock()
	if client != nil {
		return client, nil
	}

	client, err := f.opts.Factory.NewClient(ctx, state.profile)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	state.client = client
	f.mu.Unlock()
	return client, nil
}

func (f *FailoverClient) callWithRetry(ctx context.Context, client ModelClient, profile AuthProfile, request ModelRequest) (*ModelResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.agent", "agent.model_call",
		attribute.String("provider", client.Provider()),
		attribute.String("profile", profile.ID),
		attribute.String("model", request.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, f.logger)

	var lastErr error
	for attempt := 0; attempt < f.opts.MaxAttempts; attempt++ {
		resp, err := client.Generate(ctx, request)
		observability.RecordModelCall(client.Provider(), err == nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == f.opts.MaxAttempts-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := f.opts.RetryBase * time.Duration(1<<attempt)
		logger.Info().
			Str("profileId", profile.ID).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")

		if err := f.opts.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (f *FailoverClient) markSuccess(state *profileState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state.failures = 0
	state.cooldownUntil = time.Time{}
	observability.SetProfileCooldown(state.profile.ID, false)
}

func (f *FailoverClient) markFailure(state *profileState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state.failures++
	cooldown := f.opts.CooldownStep * time.Duration(state.failures)
	if cooldown > f.opts.CooldownLimit {
		cooldown = f.opts.CooldownLimit
	}
	state.cooldownUntil = f.opts.now().Add(cooldown)
	observability.SetProfileCooldown(state.profile.ID, true)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
