package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/diegosucaria/deedee-sub000/pkg/agent"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
)

// dispatchInbound is the registry's DispatchFunc: every channel message
// becomes one turn. A failed turn has already told the user, so only
// infrastructure errors are returned to the channel.
func (d *Daemon) dispatchInbound(ctx context.Context, msg channels.InboundMessage) error {
	ctx = tracing.WithChatID(tracing.WithTraceID(ctx, tracing.NewTraceID()), msg.ChatID)
	logger := tracing.LoggerFromContext(ctx, d.logger.GetZerolog())

	res, err := d.agentRunner.HandleMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, agent.ErrTurnFailed) {
			logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Turn rolled back")
			return nil
		}
		logger.Error().Err(err).Str("channel", msg.Channel).Msg("Failed to handle inbound message")
		return err
	}

	logger.Debug().
		Str("tier", string(res.Tier)).
		Int("iterations", res.Iterations).
		Bool("stuck", res.Stuck).
		Dur("duration", res.Duration).
		Msg("Turn complete")
	return nil
}

// waitForSignal blocks until SIGINT, SIGTERM or ctx is done.
func waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}
