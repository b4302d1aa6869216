package coretools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ImageGenerator turns a prompt into an encoded image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*channels.Media, error)
}

type generateImageParams struct {
	Prompt  string `json:"prompt"`
	Caption string `json:"caption"`
}

func mediaTools(images ImageGenerator) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "generate_image",
			Description: "Generate an image from a description and send it to the chat",
			Family:      toolexecutor.FamilyMedia,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "prompt", Type: "string", Description: "What the image should show", Required: true},
				{Name: "caption", Type: "string", Description: "Optional caption sent with the image"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p generateImageParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if strings.TrimSpace(p.Prompt) == "" {
					return nil, fmt.Errorf("prompt is required")
				}
				media, err := images.GenerateImage(ctx, p.Prompt)
				if err != nil {
					return nil, err
				}

				// The bytes go straight to the chat; the model only sees a summary.
				execCtx := toolexecutor.ExecContextFromContext(ctx)
				msg := channels.OutboundMessage{Kind: channels.KindTool, Text: p.Caption, Media: media}
				if err := execCtx.Deliver(ctx, msg); err != nil {
					return nil, fmt.Errorf("image generated but not delivered: %w", err)
				}
				return map[string]interface{}{
					"delivered": true,
					"mime_type": media.MimeType,
					"bytes":     len(media.Data),
				}, nil
			},
		},
	}
}

// OpenAIImages generates images through the OpenAI images endpoint.
type OpenAIImages struct {
	client openai.Client
	model  openai.ImageModel
}

// NewOpenAIImages creates a generator; model defaults to dall-e-3.
func NewOpenAIImages(apiKey, model string, opts ...option.RequestOption) *OpenAIImages {
	if model == "" {
		model = string(openai.ImageModelDallE3)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIImages{
		client: openai.NewClient(opts...),
		model:  openai.ImageModel(model),
	}
}

func (g *OpenAIImages) GenerateImage(ctx context.Context, prompt string) (*channels.Media, error) {
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  g.model,
		N:      openai.Int(1),
	}
	// gpt-image models always return base64 and reject response_format.
	if g.model != openai.ImageModelGPTImage1 {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := g.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image generation returned no data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &channels.Media{MimeType: "image/png", Filename: "image.png", Data: data}, nil
}
