package pipeline

import (
	"fmt"
	"strings"

	"server/internal/domain"
)

// sceneMood maps weather categories onto prompt vocabulary.
var sceneMood = map[domain.WeatherCategory]string{
	domain.CategoryClear:        "crisp clear skies",
	domain.CategoryClouds:       "soft rolling clouds",
	domain.CategoryRain:         "steady rain and wet reflections",
	domain.CategoryDrizzle:      "light drizzle and muted light",
	domain.CategoryThunderstorm: "dramatic storm clouds and lightning",
	domain.CategorySnow:         "gentle falling snow",
	domain.CategoryMist:         "thick atmospheric mist",
}

// ScenePrompt builds the image-generation prompt for a city under the given
// weather.
func ScenePrompt(city string, w *domain.WeatherSnapshot) string {
	mood, ok := sceneMood[w.Category]
	if !ok {
		mood = "ambient weather"
	}
	tod := "daytime"
	if !w.IsDay {
		tod = "nighttime"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A cinematic %s view of %s with %s", tod, domain.DisplayCity(city), mood)
	if w.Condition != "" {
		fmt.Fprintf(&b, ", current conditions: %s", strings.ToLower(w.Condition))
	}
	b.WriteString(". Wide establishing shot, no people, no text.")
	return b.String()
}

// AnimationPrompt builds the video-generation prompt used to animate a scene
// image.
func AnimationPrompt(city string, w *domain.WeatherSnapshot) string {
	mood, ok := sceneMood[w.Category]
	if !ok {
		mood = "ambient weather"
	}
	return fmt.Sprintf("Animate this scene of %s subtly: %s, slow camera drift, seamless loop.", domain.DisplayCity(city), mood)
}
