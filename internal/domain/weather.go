package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// WeatherCategory is the normalized high-level weather condition used as part
// of media cache keys. The set is closed; providers map their own condition
// vocabulary onto it.
type WeatherCategory string

const (
	CategoryClear        WeatherCategory = "clear"
	CategoryClouds       WeatherCategory = "clouds"
	CategoryRain         WeatherCategory = "rain"
	CategoryDrizzle      WeatherCategory = "drizzle"
	CategoryThunderstorm WeatherCategory = "thunderstorm"
	CategorySnow         WeatherCategory = "snow"
	CategoryMist         WeatherCategory = "mist"
	CategoryUnknown      WeatherCategory = "unknown"
)

// WeatherTTL is the soft freshness window for cached weather. Reads past the
// window trigger a refetch rather than a deletion.
const WeatherTTL = time.Hour

// WeatherSnapshot is the normalized weather view embedded in jobs and stored
// in the weather cache.
type WeatherSnapshot struct {
	Category  WeatherCategory `json:"category"`
	Condition string          `json:"condition"`
	TempC     float64         `json:"temp_c"`
	TempF     float64         `json:"temp_f"`
	Humidity  int             `json:"humidity"`
	WindKph   float64         `json:"wind_kph"`
	IsDay     bool            `json:"is_day"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Fresh reports whether the snapshot is still within the freshness window.
func (s *WeatherSnapshot) Fresh(now time.Time) bool {
	if s == nil || s.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(s.FetchedAt) < WeatherTTL
}

// TimeOfDay returns the cache-key component derived from the day flag.
func (s *WeatherSnapshot) TimeOfDay() string {
	if s != nil && s.IsDay {
		return "day"
	}
	return "night"
}

// Hash is a short digest over (category, rounded temperature, day/night) so
// that any visible weather drift invalidates rendered widget artifacts
// without touching the underlying media cache.
func (s *WeatherSnapshot) Hash() string {
	seed := fmt.Sprintf("%s|%d|%s", s.Category, int(math.Round(s.TempC)), s.TimeOfDay())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}
