package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// MediaCachePG implements domain.MediaCache on PostgreSQL, unique on
// (city, category, time_of_day). Entries never expire automatically.
type MediaCachePG struct {
	pool *pgxpool.Pool
}

// NewMediaCache creates a media cache backed by PostgreSQL.
func NewMediaCache(pool *pgxpool.Pool) *MediaCachePG {
	return &MediaCachePG{pool: pool}
}

// Get looks up the entry for a generation key.
func (r *MediaCachePG) Get(ctx context.Context, key domain.MediaKey) (*domain.MediaCacheEntry, error) {
	query := `
SELECT city, category, time_of_day, image_url, COALESCE(video_url, ''), animation_status, created_at, updated_at
FROM media_cache
WHERE city = $1 AND category = $2 AND time_of_day = $3;
`
	row := r.pool.QueryRow(ctx, query, key.City, key.Category, key.TimeOfDay)

	var entry domain.MediaCacheEntry
	if err := row.Scan(
		&entry.Key.City,
		&entry.Key.Category,
		&entry.Key.TimeOfDay,
		&entry.ImageURL,
		&entry.VideoURL,
		&entry.AnimationStatus,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: media cache get: %v", domain.ErrStorage, err)
	}
	return &entry, nil
}

// Upsert writes an entry keyed by its natural composite key. A concurrent
// writer racing on the same key simply wins last; generation is
// deterministic enough per key for that to be acceptable.
func (r *MediaCachePG) Upsert(ctx context.Context, entry *domain.MediaCacheEntry) error {
	query := `
INSERT INTO media_cache (city, category, time_of_day, image_url, video_url, animation_status)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
ON CONFLICT (city, category, time_of_day) DO UPDATE
SET image_url = EXCLUDED.image_url,
    video_url = COALESCE(EXCLUDED.video_url, media_cache.video_url),
    animation_status = EXCLUDED.animation_status,
    updated_at = NOW();
`
	status := entry.AnimationStatus
	if status == "" {
		status = domain.AnimationNone
	}
	if _, err := r.pool.Exec(ctx, query,
		entry.Key.City,
		entry.Key.Category,
		entry.Key.TimeOfDay,
		entry.ImageURL,
		entry.VideoURL,
		status,
	); err != nil {
		return fmt.Errorf("%w: media cache upsert: %v", domain.ErrStorage, err)
	}
	return nil
}

// SetAnimationStatus updates the video half of an existing entry without
// touching the image half.
func (r *MediaCachePG) SetAnimationStatus(ctx context.Context, key domain.MediaKey, status domain.AnimationStatus, videoURL string) error {
	query := `
UPDATE media_cache
SET animation_status = $4,
    video_url = COALESCE(NULLIF($5, ''), video_url),
    updated_at = NOW()
WHERE city = $1 AND category = $2 AND time_of_day = $3;
`
	tag, err := r.pool.Exec(ctx, query, key.City, key.Category, key.TimeOfDay, status, videoURL)
	if err != nil {
		return fmt.Errorf("%w: media cache animation status: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.MediaCache = (*MediaCachePG)(nil)
