package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/vault"
)

const defaultMaintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance: vault re-indexing and queue stats.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: defaultMaintenanceInterval,
	}
}

// Run ticks until ctx is done.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Dur("interval", e.interval).Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return
		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

func (e *EventLoop) processTasks(ctx context.Context) {
	if v := e.daemon.vault; v != nil && v.Status().IsDirty {
		if err := v.Sync(ctx); err != nil && !errors.Is(err, vault.ErrSyncInProgress) && ctx.Err() == nil {
			e.daemon.logger.Warn().Err(err).Msg("Vault sync failed")
		}
	}

	for lane, laneStats := range e.daemon.queue.GetStats() {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			e.daemon.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}
}

// HandleShutdown lets running turns finish before the queue is closed.
func (e *EventLoop) HandleShutdown() {
	e.daemon.logger.Info().Msg("Waiting for active turns")
	if e.daemon.queue.WaitForActive(10 * time.Second) {
		e.daemon.logger.Info().Msg("All active turns completed")
	}
}
