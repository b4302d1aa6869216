package agent

import (
	"errors"
	"strings"
	"time"
)

// ErrTurnFailed wraps every error that made a turn roll back.
var ErrTurnFailed = errors.New("turn failed")

// Tier selects which model answers a turn.
type Tier string

const (
	TierFast Tier = "fast"
	TierDeep Tier = "deep"
)

// ParseTier converts a config string to a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFast:
		return TierFast, nil
	case TierDeep:
		return TierDeep, nil
	}
	return "", errors.New("unknown tier: " + s)
}

// Settings tunes the turn loop. Zero values take the defaults below.
type Settings struct {
	SystemPrompt  string
	HistoryLimit  int
	MaxIterations int
	// ProgressEvery sends the working notice after every n-th execution.
	ProgressEvery int
	ThinkingDelay time.Duration
	ToolTimeout   time.Duration
	MaxTokens     int
	Temperature   float64

	ThinkingNotice string
	WorkingNotice  string
	StuckNotice    string
	ErrorNotice    string
}

const (
	defaultHistoryLimit  = 30
	defaultMaxIterations = 10
	defaultProgressEvery = 3
	defaultThinkingDelay = 8 * time.Second
	defaultMaxTokens     = 4096
)

// DefaultSettings returns the turn loop defaults.
func DefaultSettings() Settings {
	return Settings{
		SystemPrompt:   "You are a helpful personal assistant. Use the available tools when they help.",
		HistoryLimit:   defaultHistoryLimit,
		MaxIterations:  defaultMaxIterations,
		ProgressEvery:  defaultProgressEvery,
		ThinkingDelay:  defaultThinkingDelay,
		MaxTokens:      defaultMaxTokens,
		ThinkingNotice: "Still thinking...",
		WorkingNotice:  "Still working on it...",
		StuckNotice:    "I'm stuck: I kept calling tools without reaching an answer. Please try rephrasing.",
		ErrorNotice:    "Sorry, something went wrong while handling that. Please try again.",
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.SystemPrompt == "" {
		s.SystemPrompt = d.SystemPrompt
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.ProgressEvery <= 0 {
		s.ProgressEvery = d.ProgressEvery
	}
	if s.ThinkingDelay <= 0 {
		s.ThinkingDelay = d.ThinkingDelay
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = d.MaxTokens
	}
	if s.ThinkingNotice == "" {
		s.ThinkingNotice = d.ThinkingNotice
	}
	if s.WorkingNotice == "" {
		s.WorkingNotice = d.WorkingNotice
	}
	if s.StuckNotice == "" {
		s.StuckNotice = d.StuckNotice
	}
	if s.ErrorNotice == "" {
		s.ErrorNotice = d.ErrorNotice
	}
	return s
}

// TurnResult describes a committed turn.
type TurnResult struct {
	ChatID     string        `json:"chat_id"`
	Text       string        `json:"text"`
	Tier       Tier          `json:"tier"`
	Iterations int           `json:"iterations"`
	Stuck      bool          `json:"stuck,omitempty"`
	Usage      TokenUsage    `json:"usage"`
	Duration   time.Duration `json:"duration"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// AuthProfile represents authentication credentials for a model provider
type AuthProfile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "anthropic", "openai", "gemini"
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Priority int    `json:"priority"`
}

// IsRetryableError checks if an error should be retried on the same profile.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset", "timeout",
		"429", "rate limit", "overloaded", "resource_exhausted",
		"500", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
