package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// WidgetCachePG implements domain.WidgetCache on PostgreSQL, unique on
// (city, weather_hash). Expiry is lazy: the read path skips expired rows and
// the janitor removes them later.
type WidgetCachePG struct {
	pool *pgxpool.Pool
}

// NewWidgetCache creates a widget cache backed by PostgreSQL.
func NewWidgetCache(pool *pgxpool.Pool) *WidgetCachePG {
	return &WidgetCachePG{pool: pool}
}

// Get returns the entry for (city, weather-hash) including expired rows; the
// caller decides via Expired.
func (r *WidgetCachePG) Get(ctx context.Context, city, weatherHash string) (*domain.WidgetCacheEntry, error) {
	query := `
SELECT city, weather_hash, artifact_url, content_type, created_at, expires_at
FROM widget_cache
WHERE city = $1 AND weather_hash = $2;
`
	row := r.pool.QueryRow(ctx, query, domain.NormalizeCity(city), weatherHash)

	var entry domain.WidgetCacheEntry
	if err := row.Scan(
		&entry.City,
		&entry.WeatherHash,
		&entry.ArtifactURL,
		&entry.ContentType,
		&entry.CreatedAt,
		&entry.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: widget cache get: %v", domain.ErrStorage, err)
	}
	return &entry, nil
}

// Upsert writes a rendered artifact with a fresh expiry.
func (r *WidgetCachePG) Upsert(ctx context.Context, entry *domain.WidgetCacheEntry) error {
	query := `
INSERT INTO widget_cache (city, weather_hash, artifact_url, content_type, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (city, weather_hash) DO UPDATE
SET artifact_url = EXCLUDED.artifact_url,
    content_type = EXCLUDED.content_type,
    expires_at = EXCLUDED.expires_at;
`
	if _, err := r.pool.Exec(ctx, query,
		domain.NormalizeCity(entry.City),
		entry.WeatherHash,
		entry.ArtifactURL,
		entry.ContentType,
		entry.ExpiresAt,
	); err != nil {
		return fmt.Errorf("%w: widget cache upsert: %v", domain.ErrStorage, err)
	}
	return nil
}

// DeleteExpired removes rows past their expiry.
func (r *WidgetCachePG) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM widget_cache WHERE expires_at <= $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: widget cache purge: %v", domain.ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.WidgetCache = (*WidgetCachePG)(nil)
