package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/external"
	"github.com/address-normalizer/internal/fusion"
	"github.com/address-normalizer/internal/pipeline"
	"github.com/address-normalizer/internal/resolver"
	"github.com/address-normalizer/internal/taxonomy"
)

func newAddressService(t *testing.T, d *fusion.Dispatcher) (*AddressService, *CacheService) {
	t.Helper()
	tx, err := taxonomy.LoadEmbedded()
	require.NoError(t, err)
	r := resolver.New(tx, resolver.ScorerFunc(resolver.Blended), resolver.DefaultConfig())
	e := fusion.NewEngine(r, nil, nil, d, fusion.Config{CountryHint: "Armenia"}, nil)
	cache := NewCacheService(0)
	runner := pipeline.NewRunner(e, cache, nil, pipeline.Config{Workers: 2}, nil)
	s := NewAddressService(runner, nil)
	t.Cleanup(s.Shutdown)
	return s, cache
}

func TestAddressService_NormalizeAddress(t *testing.T) {
	s, cache := newAddressService(t, nil)
	ctx := context.Background()

	_, err := s.NormalizeAddress(ctx, models.RawAddress{})
	assert.True(t, errors.Is(err, ErrEmptyAddress))

	na, err := s.NormalizeAddress(ctx, models.RawAddress{Text: "Arinj, Kotayk"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, na.Status)

	ok, err := cache.Exists(ctx, na.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddressService_BatchJob(t *testing.T) {
	s, _ := newAddressService(t, nil)
	records := []models.RawAddress{{Text: "Gyumri"}, {Text: "Arinj, Kotayk"}, {Text: "gyumri"}}

	id := s.StartBatchJob(records)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, id))

	st, err := s.GetJobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, st.Status)
	assert.Equal(t, 3, st.Processed)
	assert.InDelta(t, 1.0, st.Progress, 1e-9)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 2, st.Summary.Unique)

	results, err := s.GetJobResults(id)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Gyumri", results[2].Value(models.ComponentTown))

	ch, err := s.GetJobResultsStream(ctx, id)
	require.NoError(t, err)
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 3, n)

	_, err = s.GetJobStatus("missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestAddressService_CancelJob(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	g := external.FuncGeocoder{ID: external.AdapterNominatim, Fn: func(context.Context, string, string) ([]models.GeocodeResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return []models.GeocodeResult{}, nil
	}}
	d := fusion.NewDispatcher([]external.Geocoder{g}, nil,
		fusion.WithRetryPolicy(external.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond, Multiplier: 1}))
	s, _ := newAddressService(t, d)

	id := s.StartBatchJob([]models.RawAddress{{Text: "Gyumri"}, {Text: "Vanadzor"}, {Text: "Dilijan"}, {Text: "Sevan"}})
	<-started
	_, err := s.GetJobResults(id)
	assert.True(t, errors.Is(err, ErrJobNotFinished))
	require.NoError(t, s.CancelJob(id))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, id))

	st, err := s.GetJobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, st.Status)
	results, err := s.GetJobResults(id)
	require.NoError(t, err)
	require.Len(t, results, 4)
	cancelled := 0
	for _, na := range results {
		if na.HasFlag(models.FlagCancelled) {
			cancelled++
			assert.Equal(t, models.StatusFailed, na.Status)
		}
	}
	assert.GreaterOrEqual(t, cancelled, 2, "at most two workers were busy")
	assert.Less(t, cancelled, 4, "calls in flight finish")
}

func TestAddressService_EvictsFinishedJobs(t *testing.T) {
	s, _ := newAddressService(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	old := s.StartBatchJob([]models.RawAddress{{Text: "Gyumri"}})
	require.NoError(t, s.Wait(ctx, old))
	assert.Zero(t, s.EvictFinishedJobs(), "kept for the default retention")

	s.SetJobRetention(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	fresh := s.StartBatchJob([]models.RawAddress{{Text: "Arinj, Kotayk"}})

	_, err := s.GetJobStatus(old)
	assert.True(t, errors.Is(err, ErrJobNotFound), "starting a job sweeps expired ones")
	_, err = s.GetJobStatus(fresh)
	require.NoError(t, err)

	require.NoError(t, s.Wait(ctx, fresh))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, s.EvictFinishedJobs())
	_, err = s.GetJobResults(fresh)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}
