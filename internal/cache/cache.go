// Package cache provides caching implementations for assessments and
// counters.
package cache

import (
	"fmt"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// keyPrefix namespaces every cache key so a shared Redis can host
// other services.
const keyPrefix = "pesaguard:"

// New creates a cache based on configuration.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg), nil
	case "redis":
		redis, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(NewLRUCache(cfg), redis), nil
		}
		return redis, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func assessmentKey(assessmentID string) string {
	return "assessment:" + assessmentID
}
