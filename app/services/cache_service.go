package services

import (
	"context"
	"sync"
	"time"

	"github.com/address-normalizer/app/models"
)

// CacheService is the in-memory cache. A zero ttl keeps entries forever.
type CacheService struct {
	cache      map[string]*models.NormalizedAddress
	timestamps map[string]time.Time
	mu         sync.RWMutex
	ttl        time.Duration
	counter    hitCounter
}

// NewCacheService creates a CacheService.
func NewCacheService(ttl time.Duration) *CacheService {
	return &CacheService{
		cache:      make(map[string]*models.NormalizedAddress),
		timestamps: make(map[string]time.Time),
		ttl:        ttl,
	}
}

// Get returns a copy of the cached record.
func (cs *CacheService) Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error) {
	cs.mu.RLock()
	result, exists := cs.cache[key]
	expired := exists && cs.isExpired(key)
	cs.mu.RUnlock()

	if !exists || expired {
		if expired {
			cs.deleteExpired(key)
		}
		cs.counter.miss()
		return nil, false, nil
	}
	cs.counter.hit()
	return result.Clone(), true, nil
}

// Set stores a copy of value.
func (cs *CacheService) Set(ctx context.Context, key string, value *models.NormalizedAddress) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.timestamps[key] = time.Now()
	cs.cache[key] = value.Clone()
	return nil
}

func (cs *CacheService) Delete(ctx context.Context, key string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.cache, key)
	delete(cs.timestamps, key)
	return nil
}

func (cs *CacheService) Clear(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.cache = make(map[string]*models.NormalizedAddress)
	cs.timestamps = make(map[string]time.Time)
	cs.counter.reset()
	return nil
}

func (cs *CacheService) InvalidateByTaxonomyVersion(ctx context.Context, version string) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var n int64
	for key, v := range cs.cache {
		if stale(v, version) {
			delete(cs.cache, key)
			delete(cs.timestamps, key)
			n++
		}
	}
	return n, nil
}

// Size returns the number of entries, expired ones included.
func (cs *CacheService) Size() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return len(cs.cache)
}

func (cs *CacheService) GetStats(ctx context.Context) (*CacheStats, error) {
	return cs.counter.stats("memory", int64(cs.Size())), nil
}

// CleanupExpired drops expired entries.
func (cs *CacheService) CleanupExpired() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for key := range cs.cache {
		if cs.isExpired(key) {
			delete(cs.cache, key)
			delete(cs.timestamps, key)
		}
	}
}

func (cs *CacheService) isExpired(key string) bool {
	if cs.ttl <= 0 {
		return false
	}
	timestamp, exists := cs.timestamps[key]
	if !exists {
		return true
	}
	return time.Since(timestamp) > cs.ttl
}

func (cs *CacheService) deleteExpired(key string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.isExpired(key) {
		delete(cs.cache, key)
		delete(cs.timestamps, key)
	}
}

func (cs *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	_, exists := cs.cache[key]
	return exists && !cs.isExpired(key), nil
}

// StartCleanupWorker drops expired entries every interval until ctx is done.
func (cs *CacheService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cs.CleanupExpired()
			}
		}
	}()
}

func (cs *CacheService) Close() error {
	return nil
}
