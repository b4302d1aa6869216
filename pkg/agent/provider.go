package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
)

// ModelClient is one model API.
type ModelClient interface {
	// Generate makes one model call
	Generate(ctx context.Context, request ModelRequest) (*ModelResponse, error)

	// Provider returns the provider name
	Provider() string
}

// ModelRequest contains the request parameters for a model call
type ModelRequest struct {
	Model        string
	SystemPrompt string
	Messages     []conversation.Message
	Tools        []toolexecutor.Descriptor
	Temperature  float64
	MaxTokens    int
}

// ModelResponse is the raw model turn. Parts are kept verbatim, including
// thoughts and continuation markers, so they can be persisted as returned.
type ModelResponse struct {
	Parts []conversation.Part
	Usage TokenUsage
}

// ToolCalls returns the tool calls of the response in order.
func (r *ModelResponse) ToolCalls() []conversation.ToolCall {
	return conversation.Message{Parts: r.Parts}.ToolCalls()
}

// Text joins the visible text of the response.
func (r *ModelResponse) Text() string {
	return conversation.Message{Parts: r.Parts}.Text()
}

// ClientFactory creates model clients from auth profiles.
type ClientFactory interface {
	NewClient(ctx context.Context, profile AuthProfile) (ModelClient, error)
}

// ProviderFactory is the default ClientFactory.
type ProviderFactory struct{}

// NewClient creates a new model client based on auth profile
func (f *ProviderFactory) NewClient(ctx context.Context, profile AuthProfile) (ModelClient, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	case "gemini":
		return NewGeminiProvider(ctx, profile.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// schemaRequired reads "required" from a descriptor schema. Built-ins carry
// []string, federated schemas decoded from JSON carry []interface{}.
func schemaRequired(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func schemaProperties(schema map[string]interface{}) interface{} {
	if props, ok := schema["properties"]; ok && props != nil {
		return props
	}
	return map[string]interface{}{}
}

// resultJSON renders a tool-result envelope as the text some dialects expect.
func resultJSON(result *conversation.ToolResult) string {
	data, err := json.Marshal(result.Response)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func resultIsError(result *conversation.ToolResult) bool {
	_, failed := result.Response["error"]
	return failed
}
