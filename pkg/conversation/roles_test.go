package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRole(t *testing.T) {
	tests := []struct {
		dialect Dialect
		role    Role
		want    string
	}{
		{DialectGemini, RoleUser, "user"},
		{DialectGemini, RoleAssistant, "model"},
		{DialectGemini, RoleToolResult, "user"},
		{DialectAnthropic, RoleAssistant, "assistant"},
		{DialectAnthropic, RoleToolResult, "user"},
		{DialectOpenAI, RoleToolResult, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+string(tt.role), func(t *testing.T) {
			got, err := ModelRole(tt.dialect, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("every dialect maps every stored role", func(t *testing.T) {
		for d := range modelRoles {
			for _, r := range []Role{RoleUser, RoleAssistant, RoleToolResult} {
				_, err := ModelRole(d, r)
				assert.NoError(t, err, "%s/%s", d, r)
			}
		}
	})

	t.Run("unknown input", func(t *testing.T) {
		_, err := ModelRole("cohere", RoleUser)
		assert.Error(t, err)
		_, err = ModelRole(DialectGemini, "system")
		assert.Error(t, err)
	})
}

func TestMessageHelpers(t *testing.T) {
	m := Message{Role: RoleAssistant, Parts: []Part{
		{Text: "hidden reasoning", Thought: true},
		{Text: "Sure, "},
		{ToolCall: &ToolCall{Name: "a"}},
		{Text: "done."},
		{ToolCall: &ToolCall{Name: "b"}},
	}}

	assert.Equal(t, "Sure, done.", m.Text())
	calls := m.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
}
