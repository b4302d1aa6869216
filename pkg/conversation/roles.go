package conversation

import "fmt"

// Dialect identifies a model API's message conventions.
type Dialect string

const (
	DialectGemini    Dialect = "gemini"
	DialectAnthropic Dialect = "anthropic"
	DialectOpenAI    Dialect = "openai"
)

// modelRoles maps each stored role to the role a dialect expects on the wire.
// Tool results ride in a user turn for Gemini and Anthropic and in a
// dedicated tool message for OpenAI.
var modelRoles = map[Dialect]map[Role]string{
	DialectGemini: {
		RoleUser:       "user",
		RoleAssistant:  "model",
		RoleToolResult: "user",
	},
	DialectAnthropic: {
		RoleUser:       "user",
		RoleAssistant:  "assistant",
		RoleToolResult: "user",
	},
	DialectOpenAI: {
		RoleUser:       "user",
		RoleAssistant:  "assistant",
		RoleToolResult: "tool",
	},
}

// ModelRole returns the wire role for a stored role.
func ModelRole(d Dialect, r Role) (string, error) {
	table, ok := modelRoles[d]
	if !ok {
		return "", fmt.Errorf("unknown dialect %q", d)
	}
	role, ok := table[r]
	if !ok {
		return "", fmt.Errorf("dialect %s has no mapping for role %q", d, r)
	}
	return role, nil
}
