package toolexecutor

import (
	"context"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/channels"
)

// ExecutionContext carries the chat a tool runs for and the callback it uses
// for side effects such as delivering generated media mid-turn.
type ExecutionContext struct {
	ChatID  string
	Channel string
	// Send delivers a message to the chat. It may be nil for background callers.
	Send    channels.SendFunc
	Timeout time.Duration
}

// Deliver sends msg to the execution's chat through the injected callback.
func (e *ExecutionContext) Deliver(ctx context.Context, msg channels.OutboundMessage) error {
	if e == nil || e.Send == nil {
		return ErrNoSender
	}
	if msg.ChatID == "" {
		msg.ChatID = e.ChatID
	}
	return e.Send(ctx, msg)
}

type execContextKey struct{}

// ContextWithExecContext attaches the execution context to a context.Context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext extracts the execution context from a context.Context.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(execContextKey{}); v != nil {
		if execCtx, ok := v.(*ExecutionContext); ok {
			return execCtx
		}
	}
	return nil
}
