package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/commandqueue"
	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const skippedCallError = "not executed: only the first tool call of a step runs; request it again if it is still needed"

// ConversationLog is the part of the conversation store a turn needs.
type ConversationLog interface {
	Append(ctx context.Context, chatID string, msg conversation.Message) (conversation.Message, error)
	LoadRecent(ctx context.Context, chatID string, limit int) ([]conversation.Message, error)
	LastSeq(ctx context.Context, chatID string) (int64, error)
	RollbackAfter(ctx context.Context, chatID string, seq int64) (int, error)
}

// ToolRunner is the part of the tool executor a turn needs.
type ToolRunner interface {
	Manifest(ctx context.Context) []toolexecutor.Descriptor
	Sanitize(name string) string
	Execute(ctx context.Context, name string, params map[string]interface{}, execCtx *toolexecutor.ExecutionContext) (toolexecutor.ToolResult, error)
}

// Sender delivers outbound messages through a named channel.
type Sender interface {
	Send(ctx context.Context, channel string, msg channels.OutboundMessage) error
}

// TurnFailedFunc is told about every rolled back turn.
type TurnFailedFunc func(ctx context.Context, chatID string, err error)

// Runner runs turns: route, generate, execute tools, reply.
type Runner struct {
	log          ConversationLog
	tools        ToolRunner
	commandQueue *commandqueue.CommandQueue
	router       Router
	models       map[Tier]ModelClient
	sender       Sender
	settings     Settings
	onTurnFailed TurnFailedFunc
	logger       zerolog.Logger
}

// Config holds runner configuration
type Config struct {
	Log          ConversationLog
	Tools        ToolRunner
	CommandQueue *commandqueue.CommandQueue
	// Router defaults to always choosing the deep tier.
	Router Router
	// Models must contain TierDeep; TierFast falls back to it.
	Models       map[Tier]ModelClient
	Sender       Sender
	Settings     Settings
	OnTurnFailed TurnFailedFunc
	Logger       zerolog.Logger
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Log == nil {
		return nil, fmt.Errorf("conversation log is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if cfg.CommandQueue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.Models[TierDeep] == nil {
		return nil, fmt.Errorf("a deep tier model is required")
	}

	models := map[Tier]ModelClient{TierDeep: cfg.Models[TierDeep], TierFast: cfg.Models[TierFast]}
	if models[TierFast] == nil {
		models[TierFast] = models[TierDeep]
	}
	router := cfg.Router
	if router == nil {
		router = StaticRouter{Tier: TierDeep}
	}

	return &Runner{
		log:          cfg.Log,
		tools:        cfg.Tools,
		commandQueue: cfg.CommandQueue,
		router:       router,
		models:       models,
		sender:       cfg.Sender,
		settings:     cfg.Settings.withDefaults(),
		onTurnFailed: cfg.OnTurnFailed,
		logger:       cfg.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// HandleMessage runs one turn for msg. Turns of the same chat run one at a
// time in arrival order. A MessageID redelivered while its turn is still
// running, or after it succeeded within the dedup window, shares that
// result instead of running again; a failed turn may be retried by
// redelivery. A failed turn is rolled back and reported as ErrTurnFailed.
func (r *Runner) HandleMessage(ctx context.Context, msg channels.InboundMessage) (TurnResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := msg.Validate(); err != nil {
		return TurnResult{}, fmt.Errorf("invalid message: %w", err)
	}

	ctx = tracing.NewTurnContext(ctx, msg.ChatID)
	ctx, span := tracing.StartSpan(ctx, "deedee.agent", "agent.turn",
		attribute.String("chat_id", msg.ChatID),
		attribute.String("channel", msg.Channel),
	)
	defer span.End()

	lane := commandqueue.ChatLane(msg.ChatID)
	value, err := r.commandQueue.EnqueueOnce(ctx, lane, msg.MessageID, func(taskCtx context.Context) (interface{}, error) {
		return r.runTurn(taskCtx, msg)
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}

	result, _ := value.(TurnResult)
	span.SetAttributes(
		attribute.String("tier", string(result.Tier)),
		attribute.Int("iterations", result.Iterations),
	)
	return result, nil
}

func (r *Runner) runTurn(ctx context.Context, msg channels.InboundMessage) (TurnResult, error) {
	start := time.Now()
	t := &turn{runner: r, msg: msg, tier: TierDeep}

	mark, err := r.log.LastSeq(ctx, msg.ChatID)
	if err != nil {
		return r.failTurn(ctx, t, -1, start, fmt.Errorf("failed to read conversation position: %w", err))
	}

	result, err := t.safeRun(ctx)
	if err != nil {
		return r.failTurn(ctx, t, mark, start, err)
	}

	result.Duration = time.Since(start)
	outcome := "completed"
	if result.Stuck {
		outcome = "stuck"
	}
	observability.RecordTurn(string(result.Tier), outcome, result.Duration, result.Iterations)
	return result, nil
}

// failTurn removes everything the turn appended, tells the user, and
// reports the failure. Cleanup ignores cancellation of ctx.
func (r *Runner) failTurn(ctx context.Context, t *turn, mark int64, start time.Time, cause error) (TurnResult, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	cleanupCtx := context.WithoutCancel(ctx)

	if mark >= 0 {
		removed, err := r.log.RollbackAfter(cleanupCtx, t.msg.ChatID, mark)
		if err != nil {
			logger.Error().Err(err).Int64("seq", mark).Msg("Failed to roll back conversation")
		} else {
			logger.Warn().Int("removed", removed).Int64("seq", mark).Err(cause).Msg("Turn rolled back")
		}
	}

	if err := t.deliver(cleanupCtx, channels.KindError, r.settings.ErrorNotice); err != nil {
		logger.Warn().Err(err).Msg("Failed to send error notice")
	}

	observability.RecordTurn(string(t.tier), "failed", time.Since(start), t.iterations)
	if r.onTurnFailed != nil {
		r.onTurnFailed(cleanupCtx, t.msg.ChatID, cause)
	}
	return TurnResult{}, fmt.Errorf("%w: %w", ErrTurnFailed, cause)
}

// turn is the state of one HandleMessage call.
type turn struct {
	runner       *Runner
	msg          channels.InboundMessage
	tier         Tier
	iterations   int
	thinkingSent atomic.Bool
}

func (t *turn) safeRun(ctx context.Context) (result TurnResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger := tracing.LoggerFromContext(ctx, t.runner.logger)
			logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Turn panicked")
			err = fmt.Errorf("panic during turn: %v", rec)
		}
	}()
	return t.run(ctx)
}

func (t *turn) run(ctx context.Context) (TurnResult, error) {
	r := t.runner
	s := r.settings
	chatID := t.msg.ChatID
	logger := tracing.LoggerFromContext(ctx, r.logger)

	t.tier = t.route(ctx)
	model := r.models[t.tier]

	if _, err := r.log.Append(ctx, chatID, conversation.NewTextMessage(conversation.RoleUser, t.msg.Text)); err != nil {
		return TurnResult{}, fmt.Errorf("failed to persist user message: %w", err)
	}

	manifest := r.tools.Manifest(ctx)
	execCtx := &toolexecutor.ExecutionContext{
		ChatID:  chatID,
		Channel: t.msg.Channel,
		Send:    t.send,
		Timeout: s.ToolTimeout,
	}
	result := TurnResult{ChatID: chatID, Tier: t.tier}

	for {
		history, err := r.log.LoadRecent(ctx, chatID, s.HistoryLimit)
		if err != nil {
			return result, fmt.Errorf("failed to load history: %w", err)
		}

		resp, err := t.generate(ctx, model, ModelRequest{
			SystemPrompt: s.SystemPrompt,
			Messages:     history,
			Tools:        manifest,
			Temperature:  s.Temperature,
			MaxTokens:    s.MaxTokens,
		})
		if err != nil {
			return result, fmt.Errorf("model call failed: %w", err)
		}
		result.Usage.add(resp.Usage)

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			parts := resp.Parts
			if len(parts) == 0 {
				parts = []conversation.Part{{}}
			}
			if _, err := r.log.Append(ctx, chatID, conversation.Message{Role: conversation.RoleAssistant, Parts: parts}); err != nil {
				return result, fmt.Errorf("failed to persist reply: %w", err)
			}
			result.Text = strings.TrimSpace(resp.Text())
			if result.Text != "" {
				if err := t.deliver(ctx, channels.KindReply, result.Text); err != nil {
					logger.Warn().Err(err).Msg("Failed to send reply")
				}
			}
			return result, nil
		}

		if t.iterations >= s.MaxIterations {
			logger.Warn().Int("iterations", t.iterations).Str("tool", calls[0].Name).Msg("Tool loop ceiling reached")
			if _, err := r.log.Append(ctx, chatID, conversation.NewTextMessage(conversation.RoleAssistant, s.StuckNotice)); err != nil {
				return result, fmt.Errorf("failed to persist stuck notice: %w", err)
			}
			if err := t.deliver(ctx, channels.KindReply, s.StuckNotice); err != nil {
				logger.Warn().Err(err).Msg("Failed to send stuck notice")
			}
			result.Text = s.StuckNotice
			result.Stuck = true
			return result, nil
		}

		assignCallIDs(resp.Parts)
		calls = resp.ToolCalls()
		if _, err := r.log.Append(ctx, chatID, conversation.Message{Role: conversation.RoleAssistant, Parts: resp.Parts}); err != nil {
			return result, fmt.Errorf("failed to persist tool call: %w", err)
		}

		first := calls[0]
		name := r.tools.Sanitize(first.Name)
		if name != first.Name {
			logger.Debug().Str("requested", first.Name).Str("tool", name).Msg("Sanitized tool name")
		}
		toolResult, err := r.tools.Execute(ctx, name, first.Args, execCtx)
		if err != nil {
			return result, fmt.Errorf("tool %s: %w", name, err)
		}
		t.iterations++
		result.Iterations = t.iterations

		resultParts := make([]conversation.Part, 0, len(calls))
		resultParts = append(resultParts, conversation.Part{ToolResult: &conversation.ToolResult{
			CallID:   first.ID,
			Name:     first.Name,
			Response: toolResult.Envelope(),
		}})
		for _, skipped := range calls[1:] {
			resultParts = append(resultParts, conversation.Part{ToolResult: &conversation.ToolResult{
				CallID:   skipped.ID,
				Name:     skipped.Name,
				Response: map[string]interface{}{"error": skippedCallError},
			}})
		}
		if len(calls) > 1 {
			logger.Debug().Int("skipped", len(calls)-1).Msg("Extra tool calls not executed")
		}
		if _, err := r.log.Append(ctx, chatID, conversation.Message{Role: conversation.RoleToolResult, Parts: resultParts}); err != nil {
			return result, fmt.Errorf("failed to persist tool result: %w", err)
		}

		if t.iterations%s.ProgressEvery == 0 {
			t.notify(ctx, s.WorkingNotice)
		}
	}
}

// route falls back to the deep tier on any router failure.
func (t *turn) route(ctx context.Context) Tier {
	logger := tracing.LoggerFromContext(ctx, t.runner.logger)

	tier, err := t.runner.router.Route(ctx, t.msg.Text)
	fallback := false
	if err != nil {
		logger.Warn().Err(err).Msg("Router failed, using deep tier")
		tier, fallback = TierDeep, true
	} else if t.runner.models[tier] == nil {
		logger.Warn().Str("tier", string(tier)).Msg("Router chose an unknown tier, using deep tier")
		tier, fallback = TierDeep, true
	}
	observability.RecordRoute(string(tier), fallback)
	return tier
}

// generate calls the model with the deferred thinking notice armed. A notice
// already in flight when the call returns is waited for, so it can never
// arrive after the reply or the error notice.
func (t *turn) generate(ctx context.Context, model ModelClient, req ModelRequest) (*ModelResponse, error) {
	fired := make(chan struct{})
	timer := time.AfterFunc(t.runner.settings.ThinkingDelay, func() {
		defer close(fired)
		if t.thinkingSent.CompareAndSwap(false, true) {
			t.notify(ctx, t.runner.settings.ThinkingNotice)
		}
	})
	defer func() {
		if !timer.Stop() {
			<-fired
		}
	}()

	return model.Generate(ctx, req)
}

// notify sends a best-effort notice.
func (t *turn) notify(ctx context.Context, text string) {
	if err := t.deliver(ctx, channels.KindNotice, text); err != nil {
		logger := tracing.LoggerFromContext(ctx, t.runner.logger)
		logger.Warn().Err(err).Msg("Failed to send notice")
	}
}

func (t *turn) deliver(ctx context.Context, kind channels.MessageKind, text string) error {
	return t.send(ctx, channels.OutboundMessage{Kind: kind, Text: text})
}

func (t *turn) send(ctx context.Context, msg channels.OutboundMessage) error {
	msg.ChatID = t.msg.ChatID
	return t.runner.sender.Send(ctx, t.msg.Channel, msg)
}

// assignCallIDs gives calls without an id a local one so results can be
// paired with their calls in the log.
func assignCallIDs(parts []conversation.Part) {
	for i := range parts {
		if parts[i].ToolCall != nil && parts[i].ToolCall.ID == "" {
			parts[i].ToolCall.ID = "call_" + gonanoid.Must(12)
		}
	}
}
