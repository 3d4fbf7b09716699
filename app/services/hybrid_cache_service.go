package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/address-normalizer/app/models"
)

// HybridCacheService layers a fast L1 (usually Redis) over a durable L2
// (MongoDB or sqlite). L2 hits are copied back into L1.
type HybridCacheService struct {
	l1     ICacheService
	l2     ICacheService
	logger *zap.Logger
}

// NewHybridCacheService combines two caches.
func NewHybridCacheService(l1, l2 ICacheService, logger *zap.Logger) *HybridCacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridCacheService{l1: l1, l2: l2, logger: logger}
}

func (h *HybridCacheService) Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error) {
	result, found, err := h.l1.Get(ctx, key)
	if err != nil {
		h.logger.Warn("L1 cache failed, falling back to L2", zap.Error(err))
	} else if found {
		return result, true, nil
	}

	result, found, err = h.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	if err := h.l1.Set(ctx, key, result); err != nil {
		h.logger.Warn("Could not copy L2 hit into L1", zap.Error(err), zap.String("key", key))
	}
	return result, true, nil
}

// both runs fn on each layer concurrently and joins their errors.
func (h *HybridCacheService) both(fn func(c ICacheService) error) error {
	var g errgroup.Group
	errs := make([]error, 2)
	for i, c := range []ICacheService{h.l1, h.l2} {
		g.Go(func() error {
			errs[i] = fn(c)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (h *HybridCacheService) Set(ctx context.Context, key string, value *models.NormalizedAddress) error {
	if err := h.both(func(c ICacheService) error { return c.Set(ctx, key, value) }); err != nil {
		return fmt.Errorf("hybrid set: %w", err)
	}
	return nil
}

func (h *HybridCacheService) Delete(ctx context.Context, key string) error {
	if err := h.both(func(c ICacheService) error { return c.Delete(ctx, key) }); err != nil {
		return fmt.Errorf("hybrid delete: %w", err)
	}
	return nil
}

func (h *HybridCacheService) Clear(ctx context.Context) error {
	if err := h.both(func(c ICacheService) error { return c.Clear(ctx) }); err != nil {
		return fmt.Errorf("hybrid clear: %w", err)
	}
	h.logger.Info("Cleared hybrid cache")
	return nil
}

// InvalidateByTaxonomyVersion reports the count dropped from L2.
func (h *HybridCacheService) InvalidateByTaxonomyVersion(ctx context.Context, version string) (int64, error) {
	var n int64
	err := h.both(func(c ICacheService) error {
		deleted, err := c.InvalidateByTaxonomyVersion(ctx, version)
		if c == h.l2 {
			n = deleted
		}
		return err
	})
	if err != nil {
		return n, fmt.Errorf("hybrid invalidate: %w", err)
	}
	return n, nil
}

// GetStats reports L1 hits plus L2 hits; items are counted in L2.
func (h *HybridCacheService) GetStats(ctx context.Context) (*CacheStats, error) {
	s1, err1 := h.l1.GetStats(ctx)
	s2, err2 := h.l2.GetStats(ctx)
	switch {
	case err1 != nil && err2 != nil:
		return nil, fmt.Errorf("hybrid stats: %w", errors.Join(err1, err2))
	case err1 != nil:
		return s2, nil
	case err2 != nil:
		return s1, nil
	}
	// an L1 miss is only a miss overall when L2 missed too
	out := &CacheStats{
		Backend:    "hybrid",
		TotalHits:  s1.TotalHits + s2.TotalHits,
		TotalMiss:  s2.TotalMiss,
		TotalItems: s2.TotalItems,
	}
	if total := out.TotalHits + out.TotalMiss; total > 0 {
		out.HitRate = float64(out.TotalHits) / float64(total)
	}
	return out, nil
}

func (h *HybridCacheService) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := h.l1.Exists(ctx, key)
	if err != nil {
		h.logger.Warn("L1 exists failed, falling back to L2", zap.Error(err))
	} else if ok {
		return true, nil
	}
	return h.l2.Exists(ctx, key)
}

func (h *HybridCacheService) Close() error {
	return h.both(func(c ICacheService) error { return c.Close() })
}
