package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToJob derives the context a scheduler firing runs under: a fresh
// trace carrying the job name, detached from the scheduler loop's context values.
func PropagateToJob(ctx context.Context, jobName string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithJobName(ctx, jobName)
}

// LoggerFromContext adds the tracing fields present in ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := logger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.ChatID != "" {
		lc = lc.Str("chat_id", tc.ChatID)
	}
	if tc.JobName != "" {
		lc = lc.Str("job", tc.JobName)
	}

	return lc.Logger()
}

// CloneContext copies tracing values onto a background context, for work
// that must outlive the request that started it.
func CloneContext(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
