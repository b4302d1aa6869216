package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = NewContext(ctx, &TraceContext{TraceID: "t1", TurnID: "u1", ChatID: "c1", JobName: "j1"})

	tc := FromContext(ctx)
	assert.Equal(t, "t1", tc.TraceID)
	assert.Equal(t, "u1", tc.TurnID)
	assert.Equal(t, "c1", tc.ChatID)
	assert.Equal(t, "j1", tc.JobName)
}

func TestNewTurnContext(t *testing.T) {
	t.Run("creates a trace when missing", func(t *testing.T) {
		ctx := NewTurnContext(context.Background(), "chat-1")
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetTurnID(ctx))
		assert.Equal(t, "chat-1", GetChatID(ctx))
	})

	t.Run("keeps the job trace", func(t *testing.T) {
		jobCtx := PropagateToJob(context.Background(), "morning-brief")
		ctx := NewTurnContext(jobCtx, "chat-1")
		assert.Equal(t, GetTraceID(jobCtx), GetTraceID(ctx))
		assert.Equal(t, "morning-brief", GetJobName(ctx))
	})

	t.Run("turn ids are unique", func(t *testing.T) {
		a := NewTurnContext(context.Background(), "c")
		b := NewTurnContext(context.Background(), "c")
		assert.NotEqual(t, GetTurnID(a), GetTurnID(b))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := NewContext(context.Background(), &TraceContext{TraceID: "t1", ChatID: "c1"})
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"trace_id":"t1"`)
	assert.Contains(t, buf.String(), `"chat_id":"c1"`)
	assert.NotContains(t, buf.String(), "turn_id")
}

func TestCloneContext(t *testing.T) {
	parent, cancel := context.WithCancel(WithChatID(context.Background(), "c1"))
	clone := CloneContext(parent)
	cancel()

	assert.NoError(t, clone.Err())
	assert.Equal(t, "c1", GetChatID(clone))
}

func TestStartSpan(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("deedee-test"))

	ctx, span := StartSpan(context.Background(), "deedee.test", "unit", attribute.String("k", "v"))
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}
