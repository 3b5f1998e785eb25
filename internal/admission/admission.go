package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// triggerTTL bounds how long a generation key stays claimed in the guard
// when the job it covers never reaches a terminal observation.
const triggerTTL = 5 * time.Minute

// Controller performs the two advisory admission checks in front of job
// creation: the per-caller concurrency limit and the per-generation-key
// dedup. Both use check-then-create and therefore carry a short race window;
// that is an accepted tradeoff, not something to paper over with locking.
type Controller struct {
	ledger     domain.JobLedger
	guard      InflightGuard
	privileged func(ownerKeyHash string) bool
	logger     zerolog.Logger
}

// NewController wires the admission checks.
func NewController(ledger domain.JobLedger, guard InflightGuard, privileged func(string) bool, logger zerolog.Logger) *Controller {
	if privileged == nil {
		privileged = func(string) bool { return false }
	}
	return &Controller{ledger: ledger, guard: guard, privileged: privileged, logger: logger}
}

// AdmitOwnerJob enforces the per-caller concurrency limit and creates the
// pending job. Privileged callers bypass the limit. A standard caller with an
// active job gets a RateLimitError carrying that job's id.
func (c *Controller) AdmitOwnerJob(ctx context.Context, ownerKeyHash, city, country string, jobType domain.JobType) (string, error) {
	if !c.privileged(ownerKeyHash) {
		existing, err := c.ledger.ActiveJobForOwner(ctx, ownerKeyHash)
		switch {
		case err == nil:
			return "", &domain.RateLimitError{ExistingJobID: existing}
		case !errors.Is(err, domain.ErrNotFound):
			return "", err
		}
	}
	return c.createJob(ctx, ownerKeyHash, city, country, jobType)
}

// AdmitGeneration dedups background triggers per generation key: an active
// job for (city, jobType) is reused instead of creating a new one. The
// in-flight guard narrows the check-then-create window when many widget
// requests race on the same under-cached city.
func (c *Controller) AdmitGeneration(ctx context.Context, ownerKeyHash, city, country string, jobType domain.JobType) (jobID string, reused bool, err error) {
	existing, err := c.ledger.ActiveJobForGenerationKey(ctx, city, jobType)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", false, err
	}

	guardKey := fmt.Sprintf("gen:%s:%s", domain.NormalizeCity(city), jobType)
	if c.guard != nil {
		acquired, guardErr := c.guard.Acquire(ctx, guardKey, triggerTTL)
		if guardErr != nil {
			// The guard is advisory; a broken guard store must not block
			// generation.
			c.logger.Warn().Err(guardErr).Str("key", guardKey).Msg("admission: guard acquire failed")
		} else if !acquired {
			existing, err := c.ledger.ActiveJobForGenerationKey(ctx, city, jobType)
			if err == nil {
				return existing, true, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return "", false, err
			}
			// Guard held but no job visible yet: the racing creator has not
			// committed. Report "already processing" without a job id rather
			// than start a duplicate.
			return "", true, nil
		}
	}

	jobID, err = c.createJob(ctx, ownerKeyHash, city, country, jobType)
	if err != nil {
		if c.guard != nil {
			_ = c.guard.Release(ctx, guardKey)
		}
		return "", false, err
	}
	return jobID, false, nil
}

// ReleaseGeneration frees the guard entry once a job reaches a terminal
// state. Safe to call for keys that were never acquired.
func (c *Controller) ReleaseGeneration(ctx context.Context, city string, jobType domain.JobType) {
	if c.guard == nil {
		return
	}
	guardKey := fmt.Sprintf("gen:%s:%s", domain.NormalizeCity(city), jobType)
	if err := c.guard.Release(ctx, guardKey); err != nil {
		c.logger.Warn().Err(err).Str("key", guardKey).Msg("admission: guard release failed")
	}
}

func (c *Controller) createJob(ctx context.Context, ownerKeyHash, city, country string, jobType domain.JobType) (string, error) {
	job := &domain.Job{
		ID:           uuid.NewString(),
		OwnerKeyHash: ownerKeyHash,
		Type:         jobType,
		City:         city,
		Country:      country,
	}
	if err := c.ledger.CreateJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}
