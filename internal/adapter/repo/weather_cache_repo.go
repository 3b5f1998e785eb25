package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// WeatherCachePG implements domain.WeatherCache on PostgreSQL, one row per
// normalized city. Staleness is the reader's concern; rows are only ever
// overwritten.
type WeatherCachePG struct {
	pool *pgxpool.Pool
}

// NewWeatherCache creates a weather cache backed by PostgreSQL.
func NewWeatherCache(pool *pgxpool.Pool) *WeatherCachePG {
	return &WeatherCachePG{pool: pool}
}

// Get returns the cached snapshot for a city, fresh or not.
func (r *WeatherCachePG) Get(ctx context.Context, city string) (*domain.WeatherCacheEntry, error) {
	query := `SELECT city, snapshot_json FROM weather_cache WHERE city = $1;`
	row := r.pool.QueryRow(ctx, query, domain.NormalizeCity(city))

	var entry domain.WeatherCacheEntry
	var snapshotJSON []byte
	if err := row.Scan(&entry.City, &snapshotJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: weather cache get: %v", domain.ErrStorage, err)
	}
	if err := json.Unmarshal(snapshotJSON, &entry.Snapshot); err != nil {
		return nil, fmt.Errorf("%w: decode weather cache: %v", domain.ErrStorage, err)
	}
	return &entry, nil
}

// Upsert writes the latest snapshot for a city, last writer wins.
func (r *WeatherCachePG) Upsert(ctx context.Context, city string, snapshot domain.WeatherSnapshot) error {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: encode weather cache: %v", domain.ErrStorage, err)
	}
	query := `
INSERT INTO weather_cache (city, snapshot_json, fetched_at)
VALUES ($1, $2, $3)
ON CONFLICT (city) DO UPDATE
SET snapshot_json = EXCLUDED.snapshot_json,
    fetched_at = EXCLUDED.fetched_at;
`
	if _, err := r.pool.Exec(ctx, query, domain.NormalizeCity(city), snapshotJSON, snapshot.FetchedAt); err != nil {
		return fmt.Errorf("%w: weather cache upsert: %v", domain.ErrStorage, err)
	}
	return nil
}

var _ domain.WeatherCache = (*WeatherCachePG)(nil)
