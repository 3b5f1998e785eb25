package video

import (
	"context"

	"server/internal/domain"
	"server/internal/providers/genai"
)

// GenerateRequest describes a normalized request passed to any video provider.
type GenerateRequest struct {
	Prompt    string
	ImageURL  string
	City      string
	Category  domain.WeatherCategory
	TimeOfDay string
	RequestID string
}

// Generator is the contract implemented by all video providers. The returned
// bytes are a raw clip, not yet post-processed or public.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]byte, error)
}

// GeminiGenerator animates a source image through the genai client.
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator wraps a configured genai client.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	return g.client.GenerateVideo(ctx, req.ImageURL, req.Prompt)
}

var _ Generator = (*GeminiGenerator)(nil)
