package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the service counters. A nil *Metrics is safe to use so
// tests can pass one without a registry.
type Metrics struct {
	JobsTerminal  *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	WidgetServed  *prometheus.CounterVec
	AdmissionHits *prometheus.CounterVec
}

// New registers the service counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_jobs_terminal_total",
			Help: "Jobs reaching a terminal status, by status and job type.",
		}, []string{"status", "job_type"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by cache name and outcome.",
		}, []string{"cache", "outcome"}),
		WidgetServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "widget_responses_total",
			Help: "Widget responses by served tier.",
		}, []string{"tier"}),
		AdmissionHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Admission control decisions by check and outcome.",
		}, []string{"check", "outcome"}),
	}
}

// JobTerminal records a terminal transition.
func (m *Metrics) JobTerminal(status, jobType string) {
	if m == nil {
		return
	}
	m.JobsTerminal.WithLabelValues(status, jobType).Inc()
}

// CacheLookup records a hit or miss for a named cache.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, outcome).Inc()
}

// WidgetTier records which tier answered a widget request.
func (m *Metrics) WidgetTier(tier string) {
	if m == nil {
		return
	}
	m.WidgetServed.WithLabelValues(tier).Inc()
}

// Admission records an admission decision.
func (m *Metrics) Admission(check, outcome string) {
	if m == nil {
		return
	}
	m.AdmissionHits.WithLabelValues(check, outcome).Inc()
}
