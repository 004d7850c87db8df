package cache

import (
	"context"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// TwoPhaseCache checks a local LRU before falling back to Redis.
// Writes go to both phases; the local copy carries a short TTL so
// nodes converge on the Redis view. Counters go straight to Redis so
// every node observes the same count.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
}

// NewTwoPhaseCache creates a two-phase cache.
func NewTwoPhaseCache(local *LRUCache, remote *RedisCache) *TwoPhaseCache {
	return &TwoPhaseCache{local: local, remote: remote}
}

func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if data, err := c.local.Get(ctx, key); err == nil && data != nil {
		return data, nil
	}

	data, err := c.remote.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}

	// Backfill the local phase; failures are immaterial.
	_ = c.local.Set(ctx, key, data, 0)
	return data, nil
}

func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = c.local.Set(ctx, key, value, 0)
	return c.remote.Set(ctx, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.remote.Delete(ctx, key)
}

func (c *TwoPhaseCache) GetAssessment(ctx context.Context, assessmentID string) (*domain.FraudAssessment, error) {
	if a, err := c.local.GetAssessment(ctx, assessmentID); err == nil && a != nil {
		return a, nil
	}
	return c.remote.GetAssessment(ctx, assessmentID)
}

func (c *TwoPhaseCache) SetAssessment(ctx context.Context, a *domain.FraudAssessment, ttl time.Duration) error {
	_ = c.local.SetAssessment(ctx, a, 0)
	return c.remote.SetAssessment(ctx, a, ttl)
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, window)
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	return c.remote.Ping(ctx)
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}
