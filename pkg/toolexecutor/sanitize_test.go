package toolexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeToolName(t *testing.T) {
	known := map[string]bool{"schedule_job": true, "tools.weird": true, "list_events": true}
	isKnown := func(name string) bool { return known[name] }

	tests := []struct {
		in   string
		want string
	}{
		{in: "schedule_job", want: "schedule_job"},
		{in: "default_api.schedule_job", want: "schedule_job"},
		{in: "functions.schedule_job", want: "schedule_job"},
		{in: "tools.schedule_job", want: "schedule_job"},
		{in: "calendar.list_events", want: "list_events"},
		{in: "  default_api.list_events ", want: "list_events"},
		{in: "tools.weird", want: "tools.weird"},
		{in: "default_api.unknown", want: "unknown"},
		{in: "a.b.unknown", want: "a.b.unknown"},
		{in: "default_api.", want: "default_api."},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeToolName(tt.in, isKnown))
		})
	}
}

func TestToolPolicy(t *testing.T) {
	policy := NewToolPolicy([]string{"", "send_email", "gmail_*", "family:media"})

	assert.False(t, policy.IsToolAllowed("send_email", FamilyEmail))
	assert.False(t, policy.IsToolAllowed("gmail_search", ""))
	assert.False(t, policy.IsToolAllowed("generate_image", FamilyMedia))
	assert.True(t, policy.IsToolAllowed("generate_image", ""))
	assert.True(t, policy.IsToolAllowed("recall", FamilyMemory))

	var none *ToolPolicy
	assert.True(t, none.IsToolAllowed("anything", ""))
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily(" Vault ")
	assert.NoError(t, err)
	assert.Equal(t, FamilyVault, f)

	_, err = ParseFamily("weather")
	assert.Error(t, err)
}
