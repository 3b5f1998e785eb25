package admission

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InflightGuard bounds concurrent background triggers per generation key. It
// is advisory: a lost guard entry means at worst one duplicate trigger, which
// the ledger-level dedup check usually still catches.
type InflightGuard interface {
	// Acquire claims the key for ttl. Returns false when someone else holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryGuard is the single-instance guard: a mutex-protected map with
// per-entry deadlines.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryGuard builds an in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{entries: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if deadline, ok := g.entries[key]; ok && now.Before(deadline) {
		return false, nil
	}
	g.entries[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}

// RedisGuard shares the guard across instances via SET NX with expiry.
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard wraps a connected redis client.
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, "inflight:"+key, 1, ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, "inflight:"+key).Err()
}

var (
	_ InflightGuard = (*MemoryGuard)(nil)
	_ InflightGuard = (*RedisGuard)(nil)
)
