package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/canvas-calc/pkg/types"
)

// DefaultURL is the local Ollama server
const DefaultURL = "http://localhost:11434"

// DefaultModel is used when no model is given
const DefaultModel = "llava"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}

	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Drop any path such as /api/chat, the SDK adds its own
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// Name returns the backend label used in logs and metrics
func (c *Client) Name() string {
	return "ollama"
}

// SimpleQuery performs a single non-streaming chat turn with the image attached
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error) {
	if model == "" {
		model = DefaultModel
	}

	var images []api.ImageData
	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", types.NewError(types.KindInput, "ollama", fmt.Errorf("failed to decode base64 image: %w", err))
		}
		images = append(images, api.ImageData(imgBytes))
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  images,
			},
		},
		Stream: &streamFalse,
		Options: map[string]any{
			"temperature": 0.2,
		},
	}

	var responseContent strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classify(err)
	}

	if responseContent.Len() == 0 {
		return "", types.Errorf(types.KindParse, "ollama", "empty response from ollama")
	}
	return responseContent.String(), nil
}

func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden {
			return types.NewError(types.KindAuth, "ollama", err)
		}
	}
	// hosted Ollama endpoints report missing sign-in with a plain message
	if strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
		return types.NewError(types.KindAuth, "ollama", err)
	}
	return types.NewError(types.KindTransport, "ollama", fmt.Errorf("ollama chat error: %w", err))
}
