package image

import (
	"context"

	"server/internal/providers/genai"
)

// GeminiGenerator produces weather scene images through the genai client.
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator wraps a configured genai client.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	return g.client.GenerateImage(ctx, req.Prompt)
}

var _ Generator = (*GeminiGenerator)(nil)
