package image

import (
	"context"

	"server/internal/domain"
)

// GenerateRequest describes a normalized request passed to any image provider.
type GenerateRequest struct {
	Prompt    string
	City      string
	Category  domain.WeatherCategory
	TimeOfDay string
	RequestID string
}

// Generator is the contract implemented by all image providers. Errors carry
// the fatal/transient classification via domain.GenerationError.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]byte, error)
}
