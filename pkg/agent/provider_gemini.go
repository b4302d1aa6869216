package agent

import (
	"context"
	"fmt"

	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
	"google.golang.org/genai"
)

// GeminiProvider implements ModelClient for Google Gemini. Thought
// signatures are carried as part continuations and replayed verbatim.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Generate makes an API call to Google Gemini
func (p *GeminiProvider) Generate(ctx context.Context, request ModelRequest) (*ModelResponse, error) {
	contents, err := toGeminiContents(request.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(request.SystemPrompt, genai.RoleUser)
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if request.Temperature > 0 {
		t := float32(request.Temperature)
		config.Temperature = &t
	}
	if len(request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, tool := range request.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, request.Model, contents, config)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned")
	}

	out := &ModelResponse{Parts: fromGeminiParts(resp.Candidates[0].Content.Parts)}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func fromGeminiParts(parts []*genai.Part) []conversation.Part {
	out := make([]conversation.Part, 0, len(parts))
	for _, part := range parts {
		if part == nil {
			continue
		}
		p := conversation.Part{Thought: part.Thought, Continuation: part.ThoughtSignature}
		switch {
		case part.FunctionCall != nil:
			p.ToolCall = &conversation.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
		case part.Text != "":
			p.Text = part.Text
		case len(part.ThoughtSignature) == 0:
			continue
		}
		out = append(out, p)
	}
	return out
}

// toGeminiContents maps the stored log onto Gemini contents. Model parts go
// back with their thought signatures; tool results become function responses
// in a user turn. Call ids are local and not sent: Gemini pairs calls and
// responses by name and order.
func toGeminiContents(history []conversation.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role, err := conversation.ModelRole(conversation.DialectGemini, msg.Role)
		if err != nil {
			return nil, err
		}

		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			var gp *genai.Part
			switch {
			case part.ToolResult != nil:
				gp = &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     part.ToolResult.Name,
					Response: part.ToolResult.Response,
				}}
			case part.ToolCall != nil:
				gp = &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: part.ToolCall.Name,
					Args: part.ToolCall.Args,
				}}
			case part.Text != "" || len(part.Continuation) > 0:
				gp = &genai.Part{Text: part.Text, Thought: part.Thought}
			default:
				continue
			}
			gp.ThoughtSignature = part.Continuation
			parts = append(parts, gp)
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out, nil
}
