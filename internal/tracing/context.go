package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey identifies one inbound turn, including every tool step inside it.
	TurnIDKey ContextKey = "turn_id"
	ChatIDKey ContextKey = "chat_id"
	// JobNameKey is set when a turn was started by the scheduler.
	JobNameKey ContextKey = "job_name"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	TurnID  string
	ChatID  string
	JobName string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ChatIDKey, chatID)
}

func WithJobName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, JobNameKey, name)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

func GetTurnID(ctx context.Context) string { return stringValue(ctx, TurnIDKey) }

func GetChatID(ctx context.Context) string { return stringValue(ctx, ChatIDKey) }

func GetJobName(ctx context.Context) string { return stringValue(ctx, JobNameKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		TurnID:  GetTurnID(ctx),
		ChatID:  GetChatID(ctx),
		JobName: GetJobName(ctx),
	}
}

// NewContext copies the non-empty fields of tc into ctx.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TurnID != "" {
		ctx = WithTurnID(ctx, tc.TurnID)
	}
	if tc.ChatID != "" {
		ctx = WithChatID(ctx, tc.ChatID)
	}
	if tc.JobName != "" {
		ctx = WithJobName(ctx, tc.JobName)
	}
	return ctx
}

// NewTurnContext starts a turn for chatID. An existing trace ID is kept so a
// scheduled job and the turn it triggers share one trace.
func NewTurnContext(ctx context.Context, chatID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithTurnID(ctx, NewTurnID())
	return WithChatID(ctx, chatID)
}
