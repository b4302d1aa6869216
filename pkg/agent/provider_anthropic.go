package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
)

// AnthropicProvider implements ModelClient for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Generate makes an API call to Anthropic Claude
func (p *AnthropicProvider) Generate(ctx context.Context, request ModelRequest) (*ModelResponse, error) {
	messages, err := toAnthropicMessages(request.Messages)
	if err != nil {
		return nil, err
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(request.MaxTokens),
	}
	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schemaProperties(tool.Parameters),
					Required:   schemaRequired(tool.Parameters),
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = tools
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	parts := make([]conversation.Part, 0, len(response.Content))
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, conversation.Part{Text: b.Text})
		case anthropic.ThinkingBlock:
			parts = append(parts, conversation.Part{Text: b.Thinking, Thought: true, Continuation: []byte(b.Signature)})
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			parts = append(parts, conversation.Part{ToolCall: &conversation.ToolCall{ID: b.ID, Name: b.Name, Args: args}})
		}
	}

	return &ModelResponse{
		Parts: parts,
		Usage: TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// toAnthropicMessages maps the stored log onto Messages API turns. Tool
// results travel as tool_result blocks inside a user turn.
func toAnthropicMessages(history []conversation.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		role, err := conversation.ModelRole(conversation.DialectAnthropic, msg.Role)
		if err != nil {
			return nil, err
		}

		blocks := []anthropic.ContentBlockParamUnion{}
		for _, part := range msg.Parts {
			switch {
			case part.ToolResult != nil:
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.CallID, resultJSON(part.ToolResult), resultIsError(part.ToolResult)))
			case part.ToolCall != nil:
				args := part.ToolCall.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, args, part.ToolCall.Name))
			case part.Thought:
				// Thinking blocks are only valid when signed by this API.
				if len(part.Continuation) > 0 {
					blocks = append(blocks, anthropic.NewThinkingBlock(string(part.Continuation), part.Text))
				}
			case part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if role == "assistant" {
			out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}
