package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
)

// Router picks the tier for a turn. Callers treat any error as TierDeep.
type Router interface {
	Route(ctx context.Context, text string) (Tier, error)
}

// StaticRouter always answers the same tier.
type StaticRouter struct {
	Tier Tier
}

func (r StaticRouter) Route(ctx context.Context, text string) (Tier, error) {
	if r.Tier == "" {
		return TierDeep, nil
	}
	return r.Tier, nil
}

const classifierPrompt = `Classify the user's message for a personal assistant.
Answer FAST for greetings, small talk, and simple lookups or reminders that need at most one tool.
Answer DEEP for anything needing reasoning, planning, several steps, or several tools.
Reply with exactly one word: FAST or DEEP.`

// ClassifierRouter asks a small model to classify the message.
type ClassifierRouter struct {
	client  ModelClient
	model   string
	timeout time.Duration
}

// NewClassifierRouter creates a router backed by client. An empty model
// defers to the client's own default.
func NewClassifierRouter(client ModelClient, model string, timeout time.Duration) *ClassifierRouter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClassifierRouter{client: client, model: model, timeout: timeout}
}

func (r *ClassifierRouter) Route(ctx context.Context, text string) (Tier, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Generate(ctx, ModelRequest{
		Model:        r.model,
		SystemPrompt: classifierPrompt,
		Messages:     []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, text)},
		MaxTokens:    8,
	})
	if err != nil {
		return "", fmt.Errorf("classifier call failed: %w", err)
	}
	return parseTierAnswer(resp.Text())
}

// parseTierAnswer accepts the first FAST or DEEP word in the answer.
func parseTierAnswer(answer string) (Tier, error) {
	for _, word := range strings.Fields(strings.ToUpper(answer)) {
		switch strings.Trim(word, ".,:;!\"'`*") {
		case "FAST":
			return TierFast, nil
		case "DEEP":
			return TierDeep, nil
		}
	}
	return "", fmt.Errorf("unparseable classifier answer %q", answer)
}
