package domain

import (
	"context"
	"time"
)

// JobPatch carries optional fields merged into a job alongside a stage
// transition.
type JobPatch struct {
	Weather  *WeatherSnapshot
	ImageURL *string
	VideoURL *string
}

// JobLedger defines persistence for job records and their state machine.
// Status only ever moves forward; implementations guard terminal states.
type JobLedger interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// StartJob moves pending -> processing and sets the first stage.
	StartJob(ctx context.Context, jobID string) error
	// UpdateStage sets the stage and merges the patch. Valid only while
	// status is processing.
	UpdateStage(ctx context.Context, jobID string, stage JobStage, patch JobPatch) error
	CompleteJob(ctx context.Context, jobID string, artifactURL string, weather *WeatherSnapshot, imageURL string, cached bool) error
	FailJob(ctx context.Context, jobID string, stage JobStage, errMsg string) error
	// ActiveJobForOwner returns the most recent non-terminal job id for the
	// owner, or ErrNotFound.
	ActiveJobForOwner(ctx context.Context, ownerKeyHash string) (string, error)
	// ActiveJobForGenerationKey returns the most recent non-terminal job id
	// for the normalized city and job type, or ErrNotFound.
	ActiveJobForGenerationKey(ctx context.Context, city string, jobType JobType) (string, error)
	// ClaimPending atomically claims the oldest pending job for a worker,
	// or returns ErrNotFound when the queue is empty.
	ClaimPending(ctx context.Context) (*Job, error)
	// ResetForRetry moves a failed job back to pending. Operator action only.
	ResetForRetry(ctx context.Context, jobID string) error
}

// WeatherCache stores the latest snapshot per city. Staleness is decided by
// the reader via WeatherSnapshot.Fresh; stale entries are overwritten, never
// deleted.
type WeatherCache interface {
	Get(ctx context.Context, city string) (*WeatherCacheEntry, error)
	Upsert(ctx context.Context, city string, snapshot WeatherSnapshot) error
}

// MediaCache stores generated artifacts keyed by generation key. No TTL.
type MediaCache interface {
	Get(ctx context.Context, key MediaKey) (*MediaCacheEntry, error)
	Upsert(ctx context.Context, entry *MediaCacheEntry) error
	// SetAnimationStatus updates only the video half of an entry; the image
	// half is never touched.
	SetAnimationStatus(ctx context.Context, key MediaKey, status AnimationStatus, videoURL string) error
}

// WidgetCache stores rendered widget artifacts keyed by (city, weather-hash)
// with a hard TTL. Readers treat expired rows as absent.
type WidgetCache interface {
	Get(ctx context.Context, city, weatherHash string) (*WidgetCacheEntry, error)
	Upsert(ctx context.Context, entry *WidgetCacheEntry) error
	// DeleteExpired removes rows past their expiry; used by the janitor.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
