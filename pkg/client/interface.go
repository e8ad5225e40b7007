package client

import (
	"context"
)

// VisionClient sends a prompt plus one image to a multimodal model and returns its raw text reply.
// Implementations report failures as *types.Error so callers can tell auth, transport and parse
// problems apart.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error)
	Name() string
}
