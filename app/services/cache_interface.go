package services

import (
	"context"
	"sync/atomic"

	"github.com/address-normalizer/app/models"
)

// CacheStats summarizes cache usage since start or the last Clear.
type CacheStats struct {
	Backend    string  `json:"backend"`
	HitRate    float64 `json:"hit_rate"`
	TotalHits  int64   `json:"total_hits"`
	TotalMiss  int64   `json:"total_miss"`
	TotalItems int64   `json:"total_items"`
}

// ICacheService stores one normalized record per cache key. Keys are the
// lower-cased, whitespace-collapsed raw strings; the last write wins.
type ICacheService interface {
	// Get returns the record for key; found is false on a miss.
	Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error)

	// Set stores value under key, replacing any previous record.
	Set(ctx context.Context, key string, value *models.NormalizedAddress) error

	Delete(ctx context.Context, key string) error

	Clear(ctx context.Context) error

	// InvalidateByTaxonomyVersion drops records resolved against any other
	// taxonomy version. Manually verified records are kept.
	InvalidateByTaxonomyVersion(ctx context.Context, version string) (int64, error)

	GetStats(ctx context.Context) (*CacheStats, error)

	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}

// hitCounter tracks hits and misses.
type hitCounter struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *hitCounter) hit()  { c.hits.Add(1) }
func (c *hitCounter) miss() { c.misses.Add(1) }

func (c *hitCounter) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
}

func (c *hitCounter) stats(backend string, items int64) *CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return &CacheStats{
		Backend:    backend,
		HitRate:    rate,
		TotalHits:  hits,
		TotalMiss:  misses,
		TotalItems: items,
	}
}

// stale reports whether a record must go on invalidation.
func stale(na *models.NormalizedAddress, version string) bool {
	return !na.ManuallyVerified && na.TaxonomyVersion != version
}
