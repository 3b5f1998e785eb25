package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// WidgetTTL is the hard lifetime of a rendered widget artifact. Expired
// entries are treated as absent by readers; a janitor removes them lazily.
const WidgetTTL = 30 * time.Minute

var cityTitler = cases.Title(language.English)

// NormalizeCity canonicalizes a city name for use in cache keys and
// generation-key dedup: trimmed, lower-cased, inner whitespace collapsed.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}

// DisplayCity renders a normalized city name for prompts and overlays.
func DisplayCity(city string) string {
	return cityTitler.String(NormalizeCity(city))
}

// MediaKey identifies one cacheable unit of generated media.
type MediaKey struct {
	City      string
	Category  WeatherCategory
	TimeOfDay string
}

// MediaKeyFor builds the key for a city under the given weather.
func MediaKeyFor(city string, w *WeatherSnapshot) MediaKey {
	return MediaKey{
		City:      NormalizeCity(city),
		Category:  w.Category,
		TimeOfDay: w.TimeOfDay(),
	}
}

// AnimationStatus tracks the video half of a media cache entry, which is
// populated independently of the image half.
type AnimationStatus string

const (
	AnimationNone       AnimationStatus = "none"
	AnimationPending    AnimationStatus = "pending"
	AnimationProcessing AnimationStatus = "processing"
	AnimationCompleted  AnimationStatus = "completed"
	AnimationFailed     AnimationStatus = "failed"
)

// MediaCacheEntry maps a generation key to previously produced artifacts.
// Entries never expire automatically; only a different key causes a miss.
type MediaCacheEntry struct {
	Key             MediaKey
	ImageURL        string
	VideoURL        string
	AnimationStatus AnimationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WeatherCacheEntry stores the latest snapshot fetched for a city.
type WeatherCacheEntry struct {
	City     string
	Snapshot WeatherSnapshot
}

// WidgetCacheEntry maps (city, weather-hash) to a rendered widget artifact.
type WidgetCacheEntry struct {
	City        string
	WeatherHash string
	ArtifactURL string
	ContentType string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry must be treated as absent.
func (e *WidgetCacheEntry) Expired(now time.Time) bool {
	return e == nil || !now.Before(e.ExpiresAt)
}
