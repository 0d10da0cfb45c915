// ABOUTME: Image generation tool backed by the OpenAI images API
// ABOUTME: Returns the generated image URL together with the prompt used

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ImageClient is the slice of the OpenAI client the tool needs.
type ImageClient interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// ImageTool generates images from text prompts.
type ImageTool struct {
	client ImageClient
	model  string
}

// NewImageTool creates the image generation tool. An empty model falls
// back to DALL-E 3.
func NewImageTool(client ImageClient, model string) *ImageTool {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &ImageTool{client: client, model: model}
}

func (t *ImageTool) Name() string { return NameGenerateImage }

func (t *ImageTool) Description() string {
	return "Generate an image from a text description. Include style, composition, colors, and mood in the prompt."
}

func (t *ImageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "Detailed description of the image to generate"}
		},
		"required": ["prompt"]
	}`)
}

type imageArgs struct {
	Prompt string `json:"prompt"`
}

// Execute generates one image and returns its URL.
func (t *ImageTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var req imageArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("parsing image args: %w", err)
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if t.client == nil {
		return nil, errors.New("image generation is not configured")
	}

	resp, err := t.client.CreateImage(ctx, openai.ImageRequest{
		Model:  t.model,
		Prompt: req.Prompt,
		N:      1,
		Size:   openai.CreateImageSize1024x1024,
	})
	if err != nil {
		return nil, fmt.Errorf("generating image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("image API returned no data")
	}

	out, err := json.Marshal(map[string]string{
		"imageUrl": resp.Data[0].URL,
		"prompt":   req.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding image result: %w", err)
	}
	return out, nil
}
