package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the public HTTP surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	privileged := cfg.Privileged

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(privileged))
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		r.Post("/v1/jobs", app.SubmitJob)
		r.Get("/v1/jobs/{job_id}", app.PollJob)
		r.Post("/admin/jobs/{job_id}/retry", app.RetryJob)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.WidgetAuth(privileged))
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		r.Get("/v1/widget/{city}", app.Widget)
	})

	// Generated artifacts live on the local filesystem; serve them under the
	// same base the object store hands out in URLs.
	if cfg.StoragePath != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
