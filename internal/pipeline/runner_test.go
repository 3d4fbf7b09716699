package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/external"
	"github.com/address-normalizer/internal/fusion"
	"github.com/address-normalizer/internal/normalizer"
	"github.com/address-normalizer/internal/resolver"
	"github.com/address-normalizer/internal/taxonomy"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]*models.NormalizedAddress
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]*models.NormalizedAddress)}
}

func (c *memCache) Get(_ context.Context, key string) (*models.NormalizedAddress, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	na, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return na.Clone(), true, nil
}

func (c *memCache) Set(_ context.Context, key string, na *models.NormalizedAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = na.Clone()
	return nil
}

func (c *memCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

type sink struct {
	mu      sync.Mutex
	queued  []*models.NormalizedAddress
	offered [][]models.ReviewCandidate
}

func (s *sink) Enqueue(_ context.Context, na *models.NormalizedAddress, cands []models.ReviewCandidate) (*models.AddressReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, na)
	s.offered = append(s.offered, cands)
	return models.NewAddressReview("r", *na, cands), nil
}

type batchTranslator struct {
	mu      sync.Mutex
	batches [][]string
}

func (b *batchTranslator) TranslateBatch(_ context.Context, texts []string, _ string) []external.TranslationOutcome {
	b.mu.Lock()
	b.batches = append(b.batches, append([]string(nil), texts...))
	b.mu.Unlock()
	out := make([]external.TranslationOutcome, len(texts))
	for i := range texts {
		out[i] = external.TranslationOutcome{Text: "Gyumri"}
	}
	return out
}

func newTestEngine(t *testing.T, tr external.Translator, d *fusion.Dispatcher) *fusion.Engine {
	t.Helper()
	tx, err := taxonomy.LoadEmbedded()
	require.NoError(t, err)
	r := resolver.New(tx, resolver.ScorerFunc(resolver.Blended), resolver.DefaultConfig())
	return fusion.NewEngine(r, nil, tr, d, fusion.Config{CountryHint: "Armenia"}, nil)
}

func geocoder(fn func(ctx context.Context, q string) ([]models.GeocodeResult, error)) *fusion.Dispatcher {
	g := external.FuncGeocoder{ID: external.AdapterNominatim, Fn: func(ctx context.Context, q, _ string) ([]models.GeocodeResult, error) {
		return fn(ctx, q)
	}}
	return fusion.NewDispatcher([]external.Geocoder{g}, nil,
		fusion.WithRetryPolicy(external.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond, Multiplier: 1}))
}

var sample = []string{
	"Gyumri",
	"Arinj, Kotayk",
	"Abovyan Street 12, Kentron, Yerevan",
	"Davtashen 3rd Block, 2nd Lane, 5A",
	"Nor Nork 2nd Microdistrict, Gai Avenue 14/3",
}

func TestRunBatch_OrderAndDedupe(t *testing.T) {
	faker := gofakeit.New(7)
	records := make([]models.RawAddress, 40)
	distinct := map[string]bool{}
	for i := range records {
		text := faker.RandomString(sample)
		if faker.Bool() {
			text = "  " + text + " "
		}
		records[i] = models.RawAddress{Text: text}
		distinct[normalizer.CacheKey(text)] = true
	}

	var (
		mu       sync.Mutex
		progress []int
	)
	r := NewRunner(newTestEngine(t, nil, nil), nil, nil, Config{Workers: 4}, nil)
	out, sum := r.RunBatch(context.Background(), records, BatchOptions{Progress: func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(distinct), total)
		progress = append(progress, done)
	}})

	require.Len(t, out, len(records))
	for i, na := range out {
		assert.Equal(t, normalizer.CacheKey(records[i].Text), na.Key, "record %d", i)
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			assert.False(t, out[i] == out[j], "duplicates get their own copy")
		}
	}
	assert.Equal(t, len(records), sum.Total)
	assert.Equal(t, len(distinct), sum.Unique)
	assert.Equal(t, 0, sum.CacheHits)
	assert.False(t, sum.Cancelled)

	n := 0
	for _, c := range sum.Statuses {
		n += c
	}
	assert.Equal(t, len(records), n)
	assert.Equal(t, len(distinct), progress[len(progress)-1])
}

func TestRunBatch_CacheHits(t *testing.T) {
	cache := newMemCache()
	r := NewRunner(newTestEngine(t, nil, nil), cache, nil, Config{}, nil)
	records := []models.RawAddress{{Text: sample[0]}, {Text: sample[1]}, {Text: sample[0]}, {Text: ""}}

	_, first := r.RunBatch(context.Background(), records, BatchOptions{})
	assert.Equal(t, 0, first.CacheHits)
	assert.Equal(t, 2, cache.Len(), "empty text is not cached")

	out, second := r.RunBatch(context.Background(), records, BatchOptions{})
	assert.Equal(t, 3, second.CacheHits)
	assert.Equal(t, "Gyumri", out[2].Value(models.ComponentTown))
	assert.Equal(t, models.StatusFailed, out[3].Status)
}

func TestRunBatch_LogsSummaryOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRunner(newTestEngine(t, nil, nil), newMemCache(), nil, Config{}, zap.New(core))
	records := []models.RawAddress{{Text: sample[0]}, {Text: sample[1]}, {Text: sample[0]}}

	_, sum := r.RunBatch(context.Background(), records, BatchOptions{})

	entries := logs.FilterMessage("Batch finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, sum.Total, fields["total"])
	assert.EqualValues(t, sum.Unique, fields["unique"])
}

func TestRunBatch_PreTranslatesInChunks(t *testing.T) {
	tr := &batchTranslator{}
	r := NewRunner(newTestEngine(t, tr, nil), nil, nil, Config{TranslateMaxSegments: 2}, nil)
	records := []models.RawAddress{
		{Text: "Գյումրի"},
		{Text: "Գյումրի 1"},
		{Text: "Gyumri"},
		{Text: "Գյումրի 2"},
		{Text: "Գյումրի 3"},
		{Text: "Գյումրի 4"},
	}

	out, _ := r.RunBatch(context.Background(), records, BatchOptions{})

	require.Len(t, tr.batches, 3)
	assert.Equal(t, []string{"Գյումրի", "Գյումրի 1"}, tr.batches[0])
	assert.Len(t, tr.batches[1], 2)
	assert.Len(t, tr.batches[2], 1)
	for _, na := range out {
		assert.Equal(t, "Gyumri", na.Value(models.ComponentTown), na.Raw)
	}
}

func TestRunBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	d := geocoder(func(callCtx context.Context, _ string) ([]models.GeocodeResult, error) {
		calls.Add(1)
		cancel()
		if err := callCtx.Err(); err != nil {
			return nil, &external.GeocodeError{Adapter: external.AdapterNominatim, Kind: external.KindCancelled, Err: err}
		}
		return []models.GeocodeResult{}, nil
	})
	cache := newMemCache()
	r := NewRunner(newTestEngine(t, nil, d), cache, nil, Config{Workers: 1}, nil)
	records := []models.RawAddress{{Text: sample[0]}, {Text: sample[1]}, {Text: sample[2]}}

	out, sum := r.RunBatch(ctx, records, BatchOptions{})

	require.Len(t, out, 3)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, out[0].HasFlag(models.FlagCancelled), "the call in flight finished")
	assert.Equal(t, models.StatusResolved, out[0].Status)
	for _, na := range out[1:] {
		assert.True(t, na.HasFlag(models.FlagCancelled), na.Raw)
		assert.Equal(t, models.StatusFailed, na.Status)
		assert.Equal(t, normalizer.CacheKey(na.Raw), na.Key)
	}
	assert.Equal(t, 1, cache.Len(), "only the finished record is cached")
	_, found, err := cache.Get(context.Background(), out[0].Key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 2, sum.Errors[string(external.KindCancelled)])
}

func TestResolve_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	var firstCalls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	first := external.FuncGeocoder{ID: external.AdapterNominatim, Fn: func(context.Context, string, string) ([]models.GeocodeResult, error) {
		if firstCalls.Add(1) == 1 {
			close(started)
			<-release
		}
		return []models.GeocodeResult{}, nil
	}}
	second := external.FuncGeocoder{ID: external.AdapterYandex, Fn: func(context.Context, string, string) ([]models.GeocodeResult, error) {
		return []models.GeocodeResult{{
			Adapter:    external.AdapterYandex,
			Components: map[models.Component]string{models.ComponentStreet: "Rizhkov Street"},
		}}, nil
	}}
	d := fusion.NewDispatcher([]external.Geocoder{first, second}, nil,
		fusion.WithRetryPolicy(external.RetryPolicy{Attempts: 1}))
	cache := newMemCache()
	r := NewRunner(newTestEngine(t, nil, d), cache, nil, Config{}, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	var (
		wg             sync.WaitGroup
		leader, waiter *models.NormalizedAddress
		waiterErr      error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		leader, _ = r.Resolve(leaderCtx, models.RawAddress{Text: "Gyumri"})
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		waiter, waiterErr = r.Resolve(context.Background(), models.RawAddress{Text: "Gyumri"})
	}()
	time.Sleep(50 * time.Millisecond)
	cancelLeader()
	close(release)
	wg.Wait()

	require.NotNil(t, leader)
	assert.True(t, leader.HasFlag(models.FlagCancelled))
	assert.Equal(t, models.StatusFailed, leader.Status)

	require.NoError(t, waiterErr)
	require.NotNil(t, waiter)
	assert.False(t, waiter.HasFlag(models.FlagCancelled), "the waiter ran again under its own context")
	assert.Equal(t, "Rizhkov Street", waiter.Value(models.ComponentStreet))
	assert.Equal(t, models.StatusResolved, waiter.Status)
	assert.EqualValues(t, 2, firstCalls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestResolve_SharesInFlightWork(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	d := geocoder(func(ctx context.Context, _ string) ([]models.GeocodeResult, error) {
		calls.Add(1)
		<-release
		return []models.GeocodeResult{}, nil
	})
	r := NewRunner(newTestEngine(t, nil, d), newMemCache(), nil, Config{}, nil)

	var wg sync.WaitGroup
	results := make([]*models.NormalizedAddress, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			na, err := r.Resolve(context.Background(), models.RawAddress{Text: "Gyumri"})
			assert.NoError(t, err)
			results[i] = na
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, na := range results {
		require.NotNil(t, na)
		assert.Equal(t, "Gyumri", na.Value(models.ComponentTown))
	}
}

func TestResolve_NeedsReviewGoesToSink(t *testing.T) {
	reviews := &sink{}
	r := NewRunner(newTestEngine(t, nil, nil), newMemCache(), reviews, Config{}, nil)

	na, err := r.Resolve(context.Background(), models.RawAddress{Text: "Qaghsee, Kotayk"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, na.Status)

	_, err = r.Resolve(context.Background(), models.RawAddress{Text: "Gyumri"})
	require.NoError(t, err)

	require.Len(t, reviews.queued, 1)
	assert.Equal(t, na.Key, reviews.queued[0].Key)
	names := []string{}
	for _, c := range reviews.offered[0] {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "Kaghsi")
}

func TestResolve_StaleTaxonomyVersion(t *testing.T) {
	cache := newMemCache()
	e := newTestEngine(t, nil, nil)
	r := NewRunner(e, cache, nil, Config{}, nil)
	key := normalizer.CacheKey("Gyumri")

	stale := models.NewNormalizedAddress(key, "Gyumri")
	stale.TaxonomyVersion = "outdated"
	require.NoError(t, cache.Set(context.Background(), key, stale))

	na, err := r.Resolve(context.Background(), models.RawAddress{Text: "Gyumri"})
	require.NoError(t, err)
	assert.Equal(t, e.Taxonomy().Version(), na.TaxonomyVersion)
	assert.Equal(t, models.StatusResolved, na.Status)

	verified := models.NewNormalizedAddress(key, "Gyumri")
	verified.TaxonomyVersion = "outdated"
	verified.ManuallyVerified = true
	verified.Set(models.ComponentTown, models.Field{Value: "Gyumri City", Source: models.SourceManualOverride, Confidence: 1})
	require.NoError(t, cache.Set(context.Background(), key, verified))

	na, err = r.Resolve(context.Background(), models.RawAddress{Text: "Gyumri"})
	require.NoError(t, err)
	assert.Equal(t, "Gyumri City", na.Value(models.ComponentTown), "verified records survive taxonomy changes")
}

func TestSummary_String(t *testing.T) {
	s := newSummary(3, 2)
	s.add(&models.NormalizedAddress{Status: models.StatusResolved}, true, nil)
	s.add(&models.NormalizedAddress{Status: models.StatusFailed}, false, []string{"timeout", "timeout"})
	s.DisabledAdapters = []string{"yandex"}

	out := s.String()
	assert.Contains(t, out, "records: 3 (unique 2, cache hits 1)")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "disabled adapters: yandex")
	assert.Equal(t, 2, s.Errors["timeout"])
	assert.Equal(t, 0, s.Statuses[models.StatusNeedsReview])
}
