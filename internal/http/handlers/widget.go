package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/widget"
)

// Widget serves the embeddable artifact for a city: the best cached tier,
// directly as binary content. Tier 4 (placeholder) answers 202 with a
// Retry-After hint.
func (a *App) Widget(w http.ResponseWriter, r *http.Request) {
	ownerHash := middleware.OwnerHashFromContext(r.Context())
	city := strings.TrimSpace(chi.URLParam(r, "city"))
	if city == "" {
		a.error(w, http.StatusBadRequest, "invalid_city", "city required")
		return
	}

	country := r.URL.Query().Get("country")
	if country == "" {
		country = a.countryHint(r)
	}

	res, err := a.Negotiator.Resolve(r.Context(), city, country, ownerHash)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCity) {
			a.error(w, http.StatusNotFound, "invalid_city", "no matching location found")
			return
		}
		a.Logger.Error().Err(err).Str("city", city).Msg("widget: resolve failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to resolve widget")
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Weather-Hash", res.WeatherHash)
	w.Header().Set("X-Cached", strconv.FormatBool(res.Cached))
	if res.Generating {
		w.Header().Set("X-Generating", "true")
	}
	if res.MaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(res.MaxAge.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	}

	status := http.StatusOK
	if res.Tier == widget.TierPlaceholder {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.Body)
}
