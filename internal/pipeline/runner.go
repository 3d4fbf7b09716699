package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/external"
	"github.com/address-normalizer/internal/fusion"
	"github.com/address-normalizer/internal/normalizer"
)

// Cache is the part of a cache service the runner needs.
type Cache interface {
	Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error)
	Set(ctx context.Context, key string, value *models.NormalizedAddress) error
}

// ReviewSink receives NeedsReview results.
type ReviewSink interface {
	Enqueue(ctx context.Context, na *models.NormalizedAddress, candidates []models.ReviewCandidate) (*models.AddressReview, error)
}

// Config sizes the runner.
type Config struct {
	Workers int // concurrent resolutions in a batch, 8 by default
	// Translation budget per pre-translation call
	TranslateMaxChars    int
	TranslateMaxSegments int
}

// BatchOptions tune one RunBatch call.
type BatchOptions struct {
	// Progress is called after each distinct key finishes, from any goroutine.
	Progress func(done, total int)
}

// Runner resolves addresses through the cache and the fusion engine.
type Runner struct {
	engine  *fusion.Engine
	cache   Cache
	reviews ReviewSink
	cfg     Config
	logger  *zap.Logger
	flight  singleflight.Group
}

// NewRunner wires a runner. cache and reviews may be nil.
func NewRunner(engine *fusion.Engine, cache Cache, reviews ReviewSink, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.TranslateMaxChars <= 0 {
		cfg.TranslateMaxChars = external.DefaultMaxChars
	}
	if cfg.TranslateMaxSegments <= 0 {
		cfg.TranslateMaxSegments = external.DefaultMaxSegments
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: engine, cache: cache, reviews: reviews, cfg: cfg, logger: logger}
}

// Engine returns the fusion engine.
func (r *Runner) Engine() *fusion.Engine { return r.engine }

// result is one resolved key.
type result struct {
	address   *models.NormalizedAddress
	cacheHit  bool
	kinds     []string
	ran       bool
	cancelled bool
}

// sharedAttempts bounds how often a caller re-runs a shared resolution that
// was cut short by another caller's context.
const sharedAttempts = 3

// Resolve returns the record for raw, from the cache when it holds one for
// the current taxonomy. Concurrent calls for the same key share one
// resolution.
func (r *Runner) Resolve(ctx context.Context, raw models.RawAddress) (*models.NormalizedAddress, error) {
	res, err := r.resolveKey(ctx, normalizer.CacheKey(raw.Text), raw, nil)
	if err != nil {
		return nil, err
	}
	return res.address, nil
}

func (r *Runner) lookup(ctx context.Context, key string) (*models.NormalizedAddress, bool) {
	if r.cache == nil || key == "" {
		return nil, false
	}
	na, found, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	if !na.ManuallyVerified && na.TaxonomyVersion != r.engine.Taxonomy().Version() {
		return nil, false
	}
	return na, true
}

func (r *Runner) resolveKey(ctx context.Context, key string, raw models.RawAddress, pre *external.TranslationOutcome) (result, error) {
	if na, ok := r.lookup(ctx, key); ok {
		return result{address: na, cacheHit: true, ran: true}, nil
	}

	for attempt := 1; ; attempt++ {
		v, err, shared := r.flight.Do(key, func() (any, error) {
			out, err := r.engine.ResolveTranslated(ctx, raw, pre)
			if err != nil {
				return result{}, err
			}
			if out.Complete() {
				r.store(context.WithoutCancel(ctx), key, out)
			}
			return result{address: out.Address, kinds: out.ErrorKinds(), ran: true, cancelled: out.Cancelled}, nil
		})
		// the shared run may have been cut by the leader's context, not ours
		if shared && attempt < sharedAttempts && ctx.Err() == nil && (isContextErr(err) || (err == nil && v.(result).cancelled)) {
			if na, ok := r.lookup(ctx, key); ok {
				return result{address: na, cacheHit: true, ran: true}, nil
			}
			continue
		}
		if err != nil {
			return result{}, err
		}
		res := v.(result)
		if shared {
			res.address = res.address.Clone()
		}
		return res, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Runner) store(ctx context.Context, key string, out fusion.Outcome) {
	if r.cache != nil && key != "" {
		if err := r.cache.Set(ctx, key, out.Address); err != nil {
			r.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	if r.reviews != nil && out.Address.Status == models.StatusNeedsReview {
		if _, err := r.reviews.Enqueue(ctx, out.Address, out.Candidates); err != nil {
			r.logger.Warn("Review enqueue failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// RunBatch resolves records and returns one record per input, in input
// order. Identical keys are resolved once. On cancellation no new records
// start, external calls already sent finish and their records are cached;
// records that never ran or were cut short come back Failed with the
// cancelled flag.
func (r *Runner) RunBatch(ctx context.Context, records []models.RawAddress, opts BatchOptions) ([]*models.NormalizedAddress, Summary) {
	start := time.Now()

	var (
		keys    []string
		indexes = make(map[string][]int)
	)
	for i, rec := range records {
		k := normalizer.CacheKey(rec.Text)
		if _, ok := indexes[k]; !ok {
			keys = append(keys, k)
		}
		indexes[k] = append(indexes[k], i)
	}

	results := make(map[string]result, len(keys))
	var misses []string
	for _, k := range keys {
		if na, ok := r.lookup(ctx, k); ok {
			results[k] = result{address: na, cacheHit: true, ran: true}
			continue
		}
		misses = append(misses, k)
	}

	var (
		mu   sync.Mutex
		done = len(keys) - len(misses)
	)
	progress := func() {
		if opts.Progress != nil {
			opts.Progress(done, len(keys))
		}
	}
	progress()

	first := func(k string) models.RawAddress { return records[indexes[k][0]] }
	translations := r.pretranslate(ctx, misses, first)

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, k := range misses {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := result{}
			if ctx.Err() == nil {
				var err error
				res, err = r.resolveKey(ctx, k, first(k), translations[k])
				if err != nil && !isContextErr(err) {
					r.logger.Error("Resolution failed", zap.String("key", k), zap.Error(err))
				}
			}
			mu.Lock()
			results[k] = res
			done++
			progress()
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.NormalizedAddress, len(records))
	sum := newSummary(len(records), len(keys))
	for _, k := range keys {
		res, ok := results[k]
		if !ok || !res.ran || res.address == nil {
			res = result{address: cancelledRecord(k, first(k)), kinds: []string{string(external.KindCancelled)}}
		}
		for n, i := range indexes[k] {
			na := res.address
			if n > 0 {
				na = na.Clone()
			}
			out[i] = na
			sum.add(na, res.cacheHit, res.kinds)
		}
	}

	sum.Cancelled = ctx.Err() != nil
	sum.Duration = time.Since(start)
	if d := r.engine.Dispatcher(); d != nil {
		sum.DisabledAdapters = d.Disabled()
	}
	sum.Log(r.logger)
	return out, sum
}

// pretranslate translates the non-English misses in budgeted batches.
func (r *Runner) pretranslate(ctx context.Context, keys []string, raw func(string) models.RawAddress) map[string]*external.TranslationOutcome {
	tr := r.engine.Translator()
	out := make(map[string]*external.TranslationOutcome)
	if tr == nil {
		return out
	}

	var (
		todo  []string
		texts []string
	)
	for _, k := range keys {
		text := normalizer.CollapseWhitespace(raw(k).Text)
		if normalizer.IsNonEnglish(text) {
			todo = append(todo, k)
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return out
	}

	failed := 0
	for _, chunk := range external.ChunkTexts(texts, r.cfg.TranslateMaxChars, r.cfg.TranslateMaxSegments) {
		if ctx.Err() != nil {
			break
		}
		batch := make([]string, len(chunk))
		for i, idx := range chunk {
			batch[i] = texts[idx]
		}
		// a sent batch is paid for; let it finish
		res := tr.TranslateBatch(context.WithoutCancel(ctx), batch, r.engine.TargetLanguage())
		for i, idx := range chunk {
			if i >= len(res) {
				break
			}
			o := res[i]
			if o.Err != nil {
				failed++
			}
			out[todo[idx]] = &o
		}
	}
	r.logger.Info("Pre-translated batch",
		zap.Int("texts", len(texts)),
		zap.Int("translated", len(out)-failed),
		zap.Int("failed", failed))
	return out
}

func cancelledRecord(key string, raw models.RawAddress) *models.NormalizedAddress {
	na := models.NewNormalizedAddress(key, raw.Text)
	na.Status = models.StatusFailed
	na.AddFlag(models.FlagCancelled)
	return na
}
