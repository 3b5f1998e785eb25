package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobLedgerPG implements domain.JobLedger on PostgreSQL.
type JobLedgerPG struct {
	pool *pgxpool.Pool
}

// NewJobLedger creates a new job ledger backed by PostgreSQL.
func NewJobLedger(pool *pgxpool.Pool) *JobLedgerPG {
	return &JobLedgerPG{pool: pool}
}

const jobColumns = `id, owner_key_hash, status, COALESCE(stage, ''), job_type, city, COALESCE(country, ''),
weather_json, COALESCE(image_url, ''), COALESCE(video_url, ''), COALESCE(error_message, ''),
COALESCE(failed_stage, ''), cached, created_at, updated_at, completed_at`

// CreateJob inserts a new pending row. Uniqueness per owner is admission
// control's responsibility, not the ledger's.
func (r *JobLedgerPG) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, owner_key_hash, status, job_type, city, country)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''));
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerKeyHash,
		domain.JobStatusPending,
		job.Type,
		domain.NormalizeCity(job.City),
		job.Country,
	)
	if err != nil {
		return fmt.Errorf("%w: create job: %v", domain.ErrStorage, err)
	}
	return nil
}

// GetJob fetches a job by its identifier.
func (r *JobLedgerPG) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// StartJob moves pending -> processing and enters the first stage.
func (r *JobLedgerPG) StartJob(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2, stage = $3, updated_at = NOW()
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusProcessing, domain.StageFetchingWeather, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("%w: start job: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStage sets the stage and merges patch fields while processing.
func (r *JobLedgerPG) UpdateStage(ctx context.Context, jobID string, stage domain.JobStage, patch domain.JobPatch) error {
	weatherJSON, err := marshalWeather(patch.Weather)
	if err != nil {
		return err
	}
	query := `
UPDATE jobs
SET stage = $2,
    weather_json = COALESCE($3, weather_json),
    image_url = COALESCE($4, image_url),
    video_url = COALESCE($5, video_url),
    updated_at = NOW()
WHERE id = $1 AND status = $6;
`
	tag, err := r.pool.Exec(ctx, query, jobID, stage, weatherJSON, patch.ImageURL, patch.VideoURL, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: update stage: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CompleteJob records the terminal success state and clears the stage.
func (r *JobLedgerPG) CompleteJob(ctx context.Context, jobID string, artifactURL string, weather *domain.WeatherSnapshot, imageURL string, cached bool) error {
	weatherJSON, err := marshalWeather(weather)
	if err != nil {
		return err
	}
	videoURL := ""
	if artifactURL != imageURL {
		videoURL = artifactURL
	}
	query := `
UPDATE jobs
SET status = $2,
    stage = NULL,
    weather_json = COALESCE($3, weather_json),
    image_url = NULLIF($4, ''),
    video_url = COALESCE(NULLIF($5, ''), video_url),
    cached = $6,
    updated_at = NOW(),
    completed_at = NOW()
WHERE id = $1 AND status = $7;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusCompleted, weatherJSON, imageURL, videoURL, cached, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: complete job: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FailJob records the terminal failure state along with the failing stage.
func (r *JobLedgerPG) FailJob(ctx context.Context, jobID string, stage domain.JobStage, errMsg string) error {
	query := `
UPDATE jobs
SET status = $2,
    stage = NULL,
    failed_stage = NULLIF($3, ''),
    error_message = $4,
    updated_at = NOW(),
    completed_at = NOW()
WHERE id = $1 AND status IN ($5, $6);
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusFailed, stage, errMsg, domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: fail job: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ActiveJobForOwner returns the most recent non-terminal job for the owner.
func (r *JobLedgerPG) ActiveJobForOwner(ctx context.Context, ownerKeyHash string) (string, error) {
	query := `
SELECT id FROM jobs
WHERE owner_key_hash = $1 AND status IN ($2, $3)
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanID(r.pool.QueryRow(ctx, query, ownerKeyHash, domain.JobStatusPending, domain.JobStatusProcessing))
}

// ActiveJobForGenerationKey returns the most recent non-terminal job for the
// normalized city and job type.
func (r *JobLedgerPG) ActiveJobForGenerationKey(ctx context.Context, city string, jobType domain.JobType) (string, error) {
	query := `
SELECT id FROM jobs
WHERE city = $1 AND job_type = $2 AND status IN ($3, $4)
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanID(r.pool.QueryRow(ctx, query, domain.NormalizeCity(city), jobType, domain.JobStatusPending, domain.JobStatusProcessing))
}

// ClaimPending picks the oldest pending job and is safe under concurrent
// workers thanks to FOR UPDATE SKIP LOCKED.
func (r *JobLedgerPG) ClaimPending(ctx context.Context) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + ` FROM jobs
WHERE status = $1
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT 1;
`
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: claim pending: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	job, err := r.scanJob(tx.QueryRow(ctx, query, domain.JobStatusPending))
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET updated_at = NOW() WHERE id = $1;`, job.ID); err != nil {
		return nil, fmt.Errorf("%w: claim pending: %v", domain.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: claim pending: %v", domain.ErrStorage, err)
	}
	return job, nil
}

// ResetForRetry moves a failed job back to pending. Operator action.
func (r *JobLedgerPG) ResetForRetry(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2,
    stage = NULL,
    failed_stage = NULL,
    error_message = NULL,
    completed_at = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusPending, domain.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("%w: reset job: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// StuckJobs lists processing jobs that have not advanced within olderThan.
// Consumed by the janitor for operator visibility.
func (r *JobLedgerPG) StuckJobs(ctx context.Context, olderThan time.Duration) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + ` FROM jobs
WHERE status = $1 AND updated_at < NOW() - $2::interval
ORDER BY updated_at;
`
	rows, err := r.pool.Query(ctx, query, domain.JobStatusProcessing, olderThan.String())
	if err != nil {
		return nil, fmt.Errorf("%w: stuck jobs: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stuck jobs: %v", domain.ErrStorage, err)
	}
	return jobs, nil
}

func (r *JobLedgerPG) scanID(row pgx.Row) (string, error) {
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return id, nil
}

func (r *JobLedgerPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var weatherJSON []byte
	if err := row.Scan(
		&job.ID,
		&job.OwnerKeyHash,
		&job.Status,
		&job.Stage,
		&job.Type,
		&job.City,
		&job.Country,
		&weatherJSON,
		&job.ImageURL,
		&job.VideoURL,
		&job.ErrorMessage,
		&job.FailedStage,
		&job.Cached,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan job: %v", domain.ErrStorage, err)
	}
	if len(weatherJSON) > 0 {
		var snapshot domain.WeatherSnapshot
		if err := json.Unmarshal(weatherJSON, &snapshot); err != nil {
			return nil, fmt.Errorf("%w: decode weather snapshot: %v", domain.ErrStorage, err)
		}
		job.Weather = &snapshot
	}
	return &job, nil
}

func marshalWeather(w *domain.WeatherSnapshot) ([]byte, error) {
	if w == nil {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: encode weather snapshot: %v", domain.ErrStorage, err)
	}
	return data, nil
}

var _ domain.JobLedger = (*JobLedgerPG)(nil)
