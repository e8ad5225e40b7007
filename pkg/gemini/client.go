package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/menta2k/canvas-calc/pkg/types"
)

// DefaultBaseURL is the public Generative Language API endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is used when no model is given
const DefaultModel = "gemini-1.5-flash"

const maxResponseBytes = 4 << 20

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"response_mime_type,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Client talks to the Gemini generateContent REST endpoint
type Client struct {
	apiKey  string
	baseURL string
	jsonOut bool
	http    *http.Client
}

// Option customizes a Client
type Option func(*Client)

// WithBaseURL points the client at another endpoint, e.g. a test server
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithJSONOutput asks the model for application/json output
func WithJSONOutput(enabled bool) Option {
	return func(c *Client) {
		c.jsonOut = enabled
	}
}

// NewClient creates a Gemini client. The API key is checked on each call, not here,
// so a missing key surfaces as an auth error from SimpleQuery.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		jsonOut: true,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend label used in logs and metrics
func (c *Client) Name() string {
	return "gemini"
}

// SimpleQuery sends the prompt and the image in one user turn and returns the first text part
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", types.Errorf(types.KindAuth, "gemini", "api key not configured")
	}
	if model == "" {
		model = DefaultModel
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	parts := []part{{Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: mimeType,
				Data:     imgB64,
			},
		})
	}

	reqBody := generateRequest{
		Contents: []content{
			{
				Role:  "user",
				Parts: parts,
			},
		},
	}
	if c.jsonOut {
		reqBody.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}

	return c.generateContent(ctx, model, reqBody)
}

func (c *Client) generateContent(ctx context.Context, model string, body generateRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.KindInput, "gemini", fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", types.NewError(types.KindTransport, "gemini", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", types.NewError(types.KindTransport, "gemini", fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", types.NewError(types.KindTransport, "gemini", fmt.Errorf("failed to read response: %w", err))
	}

	var gr generateResponse
	decodeErr := json.Unmarshal(bodyBytes, &gr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, gr.Error, bodyBytes)
	}
	if decodeErr != nil {
		return "", types.NewError(types.KindParse, "gemini", fmt.Errorf("failed to parse response: %w", decodeErr))
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", types.Errorf(types.KindParse, "gemini", "prompt blocked: %s", gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return "", types.Errorf(types.KindParse, "gemini", "no candidates in response")
	}

	for _, p := range gr.Candidates[0].Content.Parts {
		if strings.TrimSpace(p.Text) != "" {
			return p.Text, nil
		}
	}
	return "", types.Errorf(types.KindParse, "gemini", "no text part in response (finish reason %q)", gr.Candidates[0].FinishReason)
}

// classifyStatus maps a non-2xx reply onto an error kind. Gemini reports a bad key as
// 400 INVALID_ARGUMENT, so the message is inspected as well as the status code.
func classifyStatus(status int, apiErr *apiError, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	err := fmt.Errorf("API error (status %d): %s", status, msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.KindAuth, "gemini", err)
	case apiErr != nil && (apiErr.Status == "UNAUTHENTICATED" || apiErr.Status == "PERMISSION_DENIED"):
		return types.NewError(types.KindAuth, "gemini", err)
	case strings.Contains(strings.ToLower(msg), "api key"):
		return types.NewError(types.KindAuth, "gemini", err)
	default:
		return types.NewError(types.KindTransport, "gemini", err)
	}
}

