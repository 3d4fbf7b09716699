package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/helpers/utils"
	"github.com/address-normalizer/internal/normalizer"
)

// ErrReviewClosed is returned when deciding on a review twice.
var ErrReviewClosed = errors.New("review already decided")

// AliasHook is called with every alias known after a correction taught new ones.
type AliasHook func(ctx context.Context, aliases []models.LearnedAlias) error

// ReviewService runs the manual review queue for NeedsReview results.
type ReviewService struct {
	store   IReviewStore
	aliases IAliasStore
	cache   ICacheService
	logger  *zap.Logger

	mu     sync.Mutex // serializes decisions
	hookMu sync.RWMutex
	hook   AliasHook
}

// NewReviewService wires the queue. cache and aliases may be nil.
func NewReviewService(store IReviewStore, aliases IAliasStore, cache ICacheService, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{store: store, aliases: aliases, cache: cache, logger: logger}
}

// OnAliasesLearned registers the taxonomy reload hook.
func (s *ReviewService) OnAliasesLearned(hook AliasHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hook = hook
}

// Enqueue stores a NeedsReview result. A pending review for the same key is
// refreshed instead of duplicated. Other statuses are ignored and return nil.
func (s *ReviewService) Enqueue(ctx context.Context, na *models.NormalizedAddress, candidates []models.ReviewCandidate) (*models.AddressReview, error) {
	if na == nil || na.Status != models.StatusNeedsReview {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.PendingByKey(ctx, na.Key)
	if err != nil {
		return nil, err
	}
	review := models.NewAddressReview(utils.GenerateUUID(), *na.Clone(), candidates)
	if existing != nil {
		review.ID = existing.ID
		review.CreatedAt = existing.CreatedAt
	}
	if err := s.store.Save(ctx, review); err != nil {
		return nil, err
	}
	s.logger.Debug("Queued address for review", zap.String("review_id", review.ID), zap.String("key", na.Key))
	return review, nil
}

func (s *ReviewService) Get(ctx context.Context, id string) (*models.AddressReview, error) {
	return s.store.Get(ctx, id)
}

func (s *ReviewService) List(ctx context.Context, status string, limit int) ([]*models.AddressReview, error) {
	return s.store.List(ctx, status, limit)
}

// PendingCount is the queue length.
func (s *ReviewService) PendingCount(ctx context.Context) (int64, error) {
	return s.store.Count(ctx, models.ReviewStatusPending)
}

func (s *ReviewService) decide(ctx context.Context, id string, fn func(r *models.AddressReview) error) (*models.AddressReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsPending() {
		return nil, fmt.Errorf("review %s is %s: %w", id, r.Status, ErrReviewClosed)
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("Review decided",
		zap.String("review_id", r.ID),
		zap.String("status", r.Status),
		zap.String("reviewer", *r.ReviewerID))
	return r, nil
}

// Approve accepts the automatic result as is.
func (s *ReviewService) Approve(ctx context.Context, id, reviewer string) (*models.AddressReview, error) {
	return s.decide(ctx, id, func(r *models.AddressReview) error {
		r.Approve(reviewer)
		return nil
	})
}

// Reject closes the review; the automatic result stays in the cache.
func (s *ReviewService) Reject(ctx context.Context, id, reviewer string) (*models.AddressReview, error) {
	return s.decide(ctx, id, func(r *models.AddressReview) error {
		r.Reject(reviewer)
		return nil
	})
}

// Correct applies manual values over the automatic result. An empty value
// clears the component. The corrected record replaces the cached one for the
// same key, and every corrected fragment matching a candidate is learned as
// an alias of that node.
func (s *ReviewService) Correct(ctx context.Context, id string, values map[models.Component]string, reviewer string) (*models.AddressReview, error) {
	var learned []*models.LearnedAlias
	r, err := s.decide(ctx, id, func(r *models.AddressReview) error {
		result := ApplyCorrections(&r.AutoResult, values)
		if s.cache != nil {
			if err := s.cache.Set(ctx, result.Key, result); err != nil {
				return fmt.Errorf("store correction: %w", err)
			}
		}
		r.Correct(*result, reviewer)
		learned = aliasesFrom(r.Candidates, values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(learned) > 0 && s.aliases != nil {
		if err := s.learn(ctx, learned); err != nil {
			s.logger.Warn("Could not learn aliases", zap.Error(err))
		}
	}
	return r, nil
}

func (s *ReviewService) learn(ctx context.Context, learned []*models.LearnedAlias) error {
	for _, a := range learned {
		if err := s.aliases.Add(ctx, a); err != nil {
			return err
		}
	}
	s.hookMu.RLock()
	hook := s.hook
	s.hookMu.RUnlock()
	if hook == nil {
		return nil
	}
	all, err := s.aliases.List(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Learned aliases", zap.Int("new", len(learned)), zap.Int("total", len(all)))
	return hook(ctx, all)
}

// ApplyCorrections returns a copy of auto with values set by hand.
func ApplyCorrections(auto *models.NormalizedAddress, values map[models.Component]string) *models.NormalizedAddress {
	out := auto.Clone()
	comps := make([]models.Component, 0, len(values))
	for c := range values {
		comps = append(comps, c)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i] < comps[j] })

	for _, c := range comps {
		v := normalizer.CollapseWhitespace(values[c])
		if v == "" {
			out.Unset(c)
			continue
		}
		out.Set(c, models.Field{Value: v, Source: models.SourceManualOverride, Confidence: 1})
	}
	out.ManuallyVerified = true
	out.AddFlag(models.FlagManuallyVerified)

	flags := out.Flags[:0]
	for _, f := range out.Flags {
		if f != models.FlagAmbiguous {
			flags = append(flags, f)
		}
	}
	out.Flags = flags

	hasSettlement := out.Has(models.ComponentTown) || out.Has(models.ComponentVillage)
	switch {
	case out.IsEmpty():
		out.Status = models.StatusFailed
	case out.Has(models.ComponentCountry) && out.Has(models.ComponentProvince) && hasSettlement:
		out.Status = models.StatusResolved
	default:
		out.Status = models.StatusPartiallyResolved
	}
	return out
}

// aliasesFrom pairs candidates with the corrected value naming them.
func aliasesFrom(cands []models.ReviewCandidate, values map[models.Component]string) []*models.LearnedAlias {
	var out []*models.LearnedAlias
	seen := make(map[string]bool)
	for _, c := range cands {
		v, ok := values[c.Component]
		if !ok || c.NodeID == "" || c.Fragment == "" {
			continue
		}
		if normalizer.Fold(v) != normalizer.Fold(c.Name) || normalizer.Fold(c.Fragment) == normalizer.Fold(c.Name) {
			continue
		}
		if seen[c.Fragment+"\x00"+c.NodeID] {
			continue
		}
		seen[c.Fragment+"\x00"+c.NodeID] = true
		out = append(out, models.NewLearnedAlias(c.Fragment, c.NodeID, levelName(c.Component), models.AliasSourceManual))
	}
	return out
}

func levelName(c models.Component) string {
	switch c {
	case models.ComponentProvince:
		return models.LevelNameProvince
	case models.ComponentAdministrativeUnit:
		return models.LevelNameAdministrativeUnit
	}
	return models.LevelNameSettlement
}
