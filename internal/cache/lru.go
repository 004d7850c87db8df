package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// LRUCache is an in-memory LRU cache with per-entry TTL. Suitable for
// single-node deployments and as the local phase of the two-phase
// cache.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	items    map[string]*list.Element
	eviction *list.List

	counters map[string]*counter
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counter struct {
	value     int64
	expiresAt time.Time
}

// NewLRUCache creates an in-memory LRU cache.
func NewLRUCache(cfg domain.CacheConfig) *LRUCache {
	maxSize := cfg.LocalMaxSize
	if maxSize <= 0 {
		maxSize = 10000
	}
	ttl := cfg.LocalTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &LRUCache{
		maxSize:  maxSize,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		counters: make(map[string]*counter),
	}
}

// Get retrieves a value. Returns nil, nil on miss or expiry.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[keyPrefix+key]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.eviction.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value. A zero ttl uses the cache default.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fullKey := keyPrefix + key
	if elem, ok := c.items[fullKey]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.eviction.MoveToFront(elem)
		return nil
	}

	elem := c.eviction.PushFront(&lruEntry{
		key:       fullKey,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.items[fullKey] = elem

	for len(c.items) > c.maxSize {
		c.removeElement(c.eviction.Back())
	}

	return nil
}

// Delete removes a value.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[keyPrefix+key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetAssessment retrieves a cached assessment.
func (c *LRUCache) GetAssessment(ctx context.Context, assessmentID string) (*domain.FraudAssessment, error) {
	data, err := c.Get(ctx, assessmentKey(assessmentID))
	if err != nil || data == nil {
		return nil, err
	}

	var a domain.FraudAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAssessment caches an assessment.
func (c *LRUCache) SetAssessment(ctx context.Context, a *domain.FraudAssessment, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return c.Set(ctx, assessmentKey(a.ID), data, ttl)
}

// IncrementCounter atomically increments a windowed counter. The
// counter resets when its window expires.
func (c *LRUCache) IncrementCounter(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fullKey := keyPrefix + key
	now := time.Now()

	cnt, ok := c.counters[fullKey]
	if !ok || now.After(cnt.expiresAt) {
		cnt = &counter{expiresAt: now.Add(window)}
		c.counters[fullKey] = cnt
	}
	cnt.value++
	return cnt.value, nil
}

// Ping always succeeds for the in-memory cache.
func (c *LRUCache) Ping(_ context.Context) error {
	return nil
}

// Close clears the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.counters = make(map[string]*counter)
	c.eviction.Init()
	return nil
}

func (c *LRUCache) removeElement(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.eviction.Remove(elem)
}
