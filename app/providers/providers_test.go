package providers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/app/services"
	"github.com/address-normalizer/internal/external"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.Default()
	c.Geocoders.Order = nil
	c.Translator.Enabled = false
	c.Cache.Backend = "memory"
	c.Pipeline.Workers = 2
	return c
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		l, err := NewLogger(env)
		require.NoError(t, err, env)
		assert.NotNil(t, l)
	}
}

func TestNewGeocoders(t *testing.T) {
	c := config.Default().Geocoders
	c.Yandex.APIKey = "yk"
	c.Libpostal.Mode = "http"

	chain, fallback, err := NewGeocoders(c, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, chain, 2, "azure has no key")
	assert.Equal(t, external.AdapterNominatim, chain[0].Name())
	assert.Equal(t, external.AdapterYandex, chain[1].Name())
	require.NotNil(t, fallback)
	assert.Equal(t, external.AdapterLibpostal, fallback.Name())

	c.Nominatim.Enabled = false
	c.Libpostal.Mode = "off"
	chain, fallback, err = NewGeocoders(c, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, chain, 1)
	assert.Nil(t, fallback)

	c.Order = []string{"here"}
	_, _, err = NewGeocoders(c, zap.NewNop())
	assert.Error(t, err)
}

func TestNewDispatcher_Offline(t *testing.T) {
	d, err := NewDispatcher(offlineConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestNewTranslator(t *testing.T) {
	tr, err := NewTranslator(context.Background(), config.TranslatorCfg{Enabled: true}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, tr, "no key means no translator")

	tr, err = NewTranslator(context.Background(), config.TranslatorCfg{Enabled: false, APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestNewResolver_BadScorer(t *testing.T) {
	c := config.Default().Resolver
	c.Scorer = "soundex"
	_, err := NewResolver(c, nil)
	assert.Error(t, err)
}

func TestNewCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rcfg := config.RedisCfg{URL: "redis://" + mr.Addr()}
	ctx := context.Background()

	tests := []struct {
		backend string
		path    string
	}{
		{backend: "memory"},
		{backend: "sqlite", path: filepath.Join(t.TempDir(), "cache.db")},
		{backend: "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c, warmer, err := NewCache(config.CacheCfg{Backend: tt.backend, SQLitePath: tt.path}, rcfg, nil, zap.NewNop())
			require.NoError(t, err)
			defer c.Close()
			assert.Nil(t, warmer)

			na := models.NewNormalizedAddress("gyumri", "Gyumri")
			require.NoError(t, c.Set(ctx, na.Key, na))
			ok, err := c.Exists(ctx, na.Key)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	for _, backend := range []string{"mongo", "hybrid"} {
		_, _, err := NewCache(config.CacheCfg{Backend: backend}, rcfg, nil, zap.NewNop())
		assert.True(t, errors.Is(err, errNoMongo), backend)
	}
}

func TestNewReviewStores(t *testing.T) {
	rs, as := NewReviewStores(config.ReviewCfg{Store: "mongo"}, nil, zap.NewNop())
	assert.IsType(t, &services.MemoryReviewStore{}, rs)
	assert.IsType(t, &services.MemoryAliasStore{}, as)
}

func TestBuild_Offline(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, offlineConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Index)
	assert.Nil(t, a.Engine.Dispatcher())
	assert.Nil(t, a.Engine.Translator())

	na, err := a.Address.NormalizeAddress(ctx, models.RawAddress{Text: "Arinj, Kotayk"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, na.Status)

	n, err := a.WarmCache(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuild_NeedsMongo(t *testing.T) {
	c := offlineConfig(t)
	assert.False(t, needsMongo(c))
	c.Review.Store = "mongo"
	assert.True(t, needsMongo(c))
}
