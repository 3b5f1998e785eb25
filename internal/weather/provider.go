package weather

import (
	"context"
	"strings"

	"server/internal/domain"
)

// Provider abstracts the live weather source. A "location not found" answer
// is reported as a fatal domain.GenerationError; any other failure is
// transient.
type Provider interface {
	Fetch(ctx context.Context, city, country string) (*domain.WeatherSnapshot, error)
}

// CategoryFromCondition normalizes free-form condition text into the closed
// category enum used by generation keys.
func CategoryFromCondition(text string) domain.WeatherCategory {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "thunder"):
		return domain.CategoryThunderstorm
	case strings.Contains(lowered, "drizzle"):
		return domain.CategoryDrizzle
	case strings.Contains(lowered, "rain"), strings.Contains(lowered, "shower"):
		return domain.CategoryRain
	case strings.Contains(lowered, "snow"), strings.Contains(lowered, "sleet"), strings.Contains(lowered, "blizzard"), strings.Contains(lowered, "ice"):
		return domain.CategorySnow
	case strings.Contains(lowered, "mist"), strings.Contains(lowered, "fog"), strings.Contains(lowered, "haze"):
		return domain.CategoryMist
	case strings.Contains(lowered, "cloud"), strings.Contains(lowered, "overcast"):
		return domain.CategoryClouds
	case strings.Contains(lowered, "clear"), strings.Contains(lowered, "sunny"):
		return domain.CategoryClear
	default:
		return domain.CategoryUnknown
	}
}
