package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"server/internal/admission"
	"server/internal/domain"
	"server/internal/infra/geoip"
	"server/internal/metrics"
	"server/internal/widget"
)

// App carries the handlers' collaborators.
type App struct {
	Ledger     domain.JobLedger
	Admission  *admission.Controller
	Negotiator *widget.Negotiator
	GeoIP      geoip.CountryResolver
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger

	// OnTrigger, when set, receives each admitted job id so a single-binary
	// deployment can run the pipeline in-process instead of waiting for a
	// worker to claim it.
	OnTrigger func(jobID string)

	validate *validator.Validate
}

func NewApp(ledger domain.JobLedger, adm *admission.Controller, neg *widget.Negotiator, resolver geoip.CountryResolver, m *metrics.Metrics, logger zerolog.Logger) *App {
	return &App{
		Ledger:     ledger,
		Admission:  adm,
		Negotiator: neg,
		GeoIP:      resolver,
		Metrics:    m,
		Logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": map[string]string{"code": code, "message": message}})
}
