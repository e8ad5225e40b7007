// Package openaicompat talks to any OpenAI-compatible chat completions server:
// OpenAI itself, Groq, OpenRouter, or a local llama.cpp server started with --mmproj.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/menta2k/canvas-calc/pkg/types"
)

// DefaultModel is used when no model is given
const DefaultModel = "gpt-4o-mini"

// Client implements client.VisionClient over the chat completions API
type Client struct {
	client  openai.Client
	keyless bool
	hasKey  bool
}

// NewClient creates a client. An empty baseURL means api.openai.com, which requires a key;
// custom servers such as llama.cpp may run without one.
func NewClient(apiKey, baseURL string, extra ...option.RequestOption) *Client {
	apiKey = strings.TrimSpace(apiKey)

	opts := []option.RequestOption{
		// a failed call is reported, never repeated
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		// keep the SDK from picking up OPENAI_API_KEY behind our back
		opts = append(opts, option.WithAPIKey("sk-no-key"))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &Client{
		client:  openai.NewClient(opts...),
		keyless: baseURL != "",
		hasKey:  apiKey != "",
	}
}

// Name returns the backend label used in logs and metrics
func (c *Client) Name() string {
	return "openai"
}

// SimpleQuery sends one user message holding the prompt and the image as a data URL
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error) {
	if !c.hasKey && !c.keyless {
		return "", types.Errorf(types.KindAuth, "openai", "api key not configured")
	}
	if model == "" {
		model = DefaultModel
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
	}
	if imgB64 != "" {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + mimeType + ";base64," + imgB64,
		}))
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Temperature: openai.Opt[float64](0.2),
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", types.Errorf(types.KindParse, "openai", "no choices in response")
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", types.Errorf(types.KindParse, "openai", "no text content in response")
	}
	return text, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return types.NewError(types.KindAuth, "openai", err)
		}
		return types.NewError(types.KindTransport, "openai", fmt.Errorf("server returned status %d: %w", apiErr.StatusCode, err))
	}
	return types.NewError(types.KindTransport, "openai", fmt.Errorf("request failed: %w", err))
}
