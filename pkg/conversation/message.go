package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role is the stored author of a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
)

// Valid reports whether r is one of the stored roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleToolResult
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ToolResult answers the ToolCall with the same ID. Response is the
// executor envelope: {"success": true, ...} or {"error": "..."}.
type ToolResult struct {
	CallID   string                 `json:"callId,omitempty"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Part is one element of a message. Exactly one of Text, ToolCall or
// ToolResult is meaningful; Continuation may accompany any of them.
type Part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
	// Continuation is an opaque marker returned by the model that must be sent
	// back unchanged with this part on later requests.
	Continuation []byte `json:"continuation,omitempty"`
}

// TextPart returns a plain text part
func TextPart(text string) Part {
	return Part{Text: text}
}

// Message is one stored turn of a chat.
type Message struct {
	Seq       int64     `json:"seq"`
	ChatID    string    `json:"chatId"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart(text)}}
}

// Text joins the visible text parts of m.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Thought || p.ToolCall != nil || p.ToolResult != nil {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// ToolCalls returns the tool calls in m in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// Validate checks that m can be stored.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message has no parts")
	}
	for i, p := range m.Parts {
		if p.ToolCall != nil && p.ToolCall.Name == "" {
			return fmt.Errorf("part %d: tool call without name", i)
		}
		if p.ToolResult != nil && m.Role != RoleToolResult {
			return fmt.Errorf("part %d: tool result in %s message", i, m.Role)
		}
	}
	return nil
}
