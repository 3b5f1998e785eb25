package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// StuckJobLister reports jobs that have been processing past a threshold.
// Expiry of cache rows is lazy on the read path; the janitor only reclaims
// dead rows and surfaces stuck jobs for operators.
type StuckJobLister interface {
	StuckJobs(ctx context.Context, olderThan time.Duration) ([]domain.Job, error)
}

// Janitor periodically purges expired widget cache rows and logs jobs stuck
// in processing.
type Janitor struct {
	scheduler *gocron.Scheduler
	widgets   domain.WidgetCache
	jobs      StuckJobLister
	threshold time.Duration
	interval  time.Duration
	logger    zerolog.Logger
}

func NewJanitor(widgets domain.WidgetCache, jobs StuckJobLister, interval, stuckThreshold time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		scheduler: gocron.NewScheduler(time.UTC),
		widgets:   widgets,
		jobs:      jobs,
		threshold: stuckThreshold,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the sweep and runs the scheduler in the background.
func (j *Janitor) Start() error {
	minutes := int(j.interval.Minutes())
	if minutes <= 0 {
		minutes = 10
	}
	if _, err := j.scheduler.Every(minutes).Minutes().Do(j.sweep); err != nil {
		return err
	}
	j.scheduler.StartAsync()
	return nil
}

// Stop cancels future sweeps.
func (j *Janitor) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := j.widgets.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error().Err(err).Msg("janitor: widget cache sweep failed")
	} else if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("janitor: purged expired widget artifacts")
	}

	if j.jobs == nil {
		return
	}
	stuck, err := j.jobs.StuckJobs(ctx, j.threshold)
	if err != nil {
		j.logger.Error().Err(err).Msg("janitor: stuck job scan failed")
		return
	}
	for _, job := range stuck {
		j.logger.Warn().
			Str("job_id", job.ID).
			Str("stage", string(job.Stage)).
			Str("city", job.City).
			Time("updated_at", job.UpdatedAt).
			Msg("janitor: job stuck in processing")
	}
}
