package channels

import (
	"context"
	"fmt"
	"strings"
)

// MessageKind tells a channel how an outbound message relates to the turn.
type MessageKind string

const (
	// KindReply is the model's final answer.
	KindReply MessageKind = "reply"
	// KindNotice is a best-effort status message (still thinking, still working).
	KindNotice MessageKind = "notice"
	// KindError is the generic failure message sent after a rolled back turn.
	KindError MessageKind = "error"
	// KindTool is a side effect produced by a tool mid-turn (a sent message, an image).
	KindTool MessageKind = "tool"
)

// InboundMessage is the normalized ingress payload from any channel.
type InboundMessage struct {
	Channel   string
	ChatID    string
	MessageID string // used to absorb redeliveries; may be empty
	Text      string
	Metadata  map[string]interface{}
}

// Validate checks the fields the turn controller relies on.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.ChatID) == "" {
		return fmt.Errorf("chat id is required")
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("message text is required")
	}
	return nil
}

// Media is a binary attachment such as a generated image or audio clip.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
}

// OutboundMessage is something the agent sends to a chat.
type OutboundMessage struct {
	ChatID string
	Kind   MessageKind
	Text   string
	Media  *Media
}

// SendFunc delivers an outbound message. It is injected into the turn
// controller and into tools so neither knows about concrete channels.
type SendFunc func(ctx context.Context, msg OutboundMessage) error

// DispatchFunc routes an inbound channel message into the agent.
type DispatchFunc func(ctx context.Context, msg InboundMessage) error

// Channel is a chat transport (console, messaging bridges, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch DispatchFunc) error
	Send(ctx context.Context, msg OutboundMessage) error
	Stop(ctx context.Context) error
}
