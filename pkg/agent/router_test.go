package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTierAnswer(t *testing.T) {
	tests := []struct {
		answer string
		want   Tier
		ok     bool
	}{
		{"FAST", TierFast, true},
		{"deep", TierDeep, true},
		{"**DEEP**", TierDeep, true},
		{"I'd say fast.", TierFast, true},
		{"maybe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := parseTierAnswer(tt.answer)
		if !tt.ok {
			assert.Error(t, err, tt.answer)
			continue
		}
		require.NoError(t, err, tt.answer)
		assert.Equal(t, tt.want, got, tt.answer)
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" Fast ")
	require.NoError(t, err)
	assert.Equal(t, TierFast, tier)

	_, err = ParseTier("medium")
	assert.Error(t, err)
}

func TestStaticRouter(t *testing.T) {
	tier, err := StaticRouter{}.Route(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, TierDeep, tier)

	tier, err = StaticRouter{Tier: TierFast}.Route(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, TierFast, tier)
}

func TestClassifierRouter(t *testing.T) {
	model := &scriptedModel{}
	model.steps = append(model.steps, func(req ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{Parts: []conversation.Part{{Text: "FAST"}}}, nil
	})
	router := NewClassifierRouter(model, "gemini-flash", 0)

	tier, err := router.Route(context.Background(), "good morning")
	require.NoError(t, err)
	assert.Equal(t, TierFast, tier)

	req := model.requests[0]
	assert.Equal(t, "gemini-flash", req.Model)
	assert.Equal(t, classifierPrompt, req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "good morning", req.Messages[0].Text())
	assert.Empty(t, req.Tools)

	model.steps = append(model.steps, func(req ModelRequest) (*ModelResponse, error) {
		return nil, errors.New("unavailable")
	})
	_, err = router.Route(context.Background(), "plan my week")
	assert.Error(t, err)
}
