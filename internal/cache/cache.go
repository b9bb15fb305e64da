package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/3B132016/tws/internal/model"
)

var ErrCacheMiss = errors.New("cache: key not found")

// ResultCache memoizes optimization results.
type ResultCache interface {
	Get(ctx context.Context, key string) (*model.OptimizationResult, error)
	Set(ctx context.Context, key string, result *model.OptimizationResult) error
	Close() error
}

// Key identifies one sweep: the security, its data version, the grid, the
// cooldown applied to every combination and the scorer with its settings.
func Key(securityID, fingerprint string, grid model.Grid, cooldown int, scorer string) string {
	return fmt.Sprintf("opt:%s:%s:%s:%s:c%d", securityID, fingerprint, scorer, grid.Key(), cooldown)
}

// NoopCache never hits.
type NoopCache struct{}

func NewNoopCache() *NoopCache { return &NoopCache{} }

func (NoopCache) Get(context.Context, string) (*model.OptimizationResult, error) {
	return nil, ErrCacheMiss
}
func (NoopCache) Set(context.Context, string, *model.OptimizationResult) error { return nil }
func (NoopCache) Close() error { return nil }

type memoryItem struct {
	result   model.OptimizationResult
	expireAt time.Time
}

// MemoryCache is an in-process ResultCache with expiration.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]memoryItem
	ttl  time.Duration
}

// NewMemoryCache creates a memory cache. A zero ttl never expires.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{data: make(map[string]memoryItem), ttl: ttl}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*model.OptimizationResult, error) {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || (!item.expireAt.IsZero() && time.Now().After(item.expireAt)) {
		return nil, ErrCacheMiss
	}
	res := item.result
	if item.result.BestParams != nil {
		p := *item.result.BestParams
		res.BestParams = &p
	}
	return &res, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, result *model.OptimizationResult) error {
	item := memoryItem{result: *result}
	if result.BestParams != nil {
		p := *result.BestParams
		item.result.BestParams = &p
	}
	if m.ttl > 0 {
		item.expireAt = time.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.data[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Close() error { return nil }
