package providers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/internal/external"
	"github.com/address-normalizer/internal/fusion"
	"github.com/address-normalizer/internal/normalizer"
	"github.com/address-normalizer/internal/resolver"
	"github.com/address-normalizer/internal/taxonomy"
)

// LoadTaxonomy reads cfg.File, or the embedded dataset when it is empty.
func LoadTaxonomy(cfg config.TaxonomyCfg) (*taxonomy.Taxonomy, error) {
	if cfg.File != "" {
		return taxonomy.LoadFile(cfg.File)
	}
	return taxonomy.LoadEmbedded()
}

// NewResolver builds the resolver over tx.
func NewResolver(cfg config.ResolverCfg, tx *taxonomy.Taxonomy) (*resolver.Resolver, error) {
	scorer, err := resolver.ScorerByName(cfg.Scorer)
	if err != nil {
		return nil, err
	}
	rc := resolver.Config{
		Threshold:     cfg.Threshold,
		MinMargin:     cfg.MinMargin,
		ReviewFloor:   cfg.ReviewFloor,
		MaxCandidates: cfg.MaxCandidates,
		WordMatch:     cfg.WordMatch,
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return resolver.New(tx, scorer, rc), nil
}

// NewTranslator returns nil when translation is disabled or has no key.
func NewTranslator(ctx context.Context, cfg config.TranslatorCfg, logger *zap.Logger) (external.Translator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		logger.Warn("Translation disabled: no Google Translate API key")
		return nil, nil
	}
	tr, err := external.NewGoogleTranslator(ctx, external.TranslatorConfig{
		APIKey:        cfg.APIKey,
		Endpoint:      cfg.Endpoint,
		MaxChars:      cfg.MaxChars,
		MaxSegments:   cfg.MaxSegments,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
	}, logger)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// NewGeocoders builds the configured chain and the libpostal fallback.
// Adapters that are disabled or lack a required key are left out.
func NewGeocoders(cfg config.GeocodersCfg, logger *zap.Logger) ([]external.Geocoder, external.Geocoder, error) {
	var chain []external.Geocoder
	for _, name := range cfg.Order {
		ac, ok := cfg.Adapter(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown geocoder %q", name)
		}
		if !ac.Enabled {
			continue
		}
		hc := external.HTTPConfig{
			BaseURL:   ac.BaseURL,
			APIKey:    ac.APIKey,
			Timeout:   ac.Timeout,
			Limit:     ac.Limit,
			UserAgent: cfg.UserAgent,
		}
		var g external.Geocoder
		switch name {
		case external.AdapterNominatim:
			g = external.NewNominatim(external.NominatimConfig{
				HTTPConfig:   hc,
				CountryCodes: cfg.CountryCodes,
				Districts:    cfg.Districts,
			}, logger)
		case external.AdapterYandex:
			if ac.APIKey == "" {
				logger.Warn("Geocoder skipped: no API key", zap.String("adapter", name))
				continue
			}
			g = external.NewYandex(external.YandexConfig{HTTPConfig: hc, BBox: cfg.YandexBBox}, logger)
		case external.AdapterAzure:
			if ac.APIKey == "" {
				logger.Warn("Geocoder skipped: no API key", zap.String("adapter", name))
				continue
			}
			g = external.NewAzure(external.AzureConfig{HTTPConfig: hc, CountrySet: "AM", Language: "en-US"}, logger)
		}
		chain = append(chain, external.RateLimited(g, external.NewLimiter(ac.RatePerSecond, 1)))
	}

	var fallback external.Geocoder
	switch cfg.Libpostal.Mode {
	case "http":
		fallback = external.NewLibpostalHTTP(external.HTTPConfig{
			BaseURL: cfg.Libpostal.BaseURL,
			Timeout: cfg.Libpostal.Timeout,
		}, logger)
	case "embedded":
		lp, err := external.NewEmbeddedLibpostal("hy", "am", logger)
		if err != nil {
			return nil, nil, err
		}
		fallback = lp
	}
	return chain, fallback, nil
}

// NewDispatcher returns nil when no geocoder is configured.
func NewDispatcher(cfg *config.Config, logger *zap.Logger) (*fusion.Dispatcher, error) {
	chain, fallback, err := NewGeocoders(cfg.Geocoders, logger)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 && fallback == nil {
		logger.Warn("No geocoders configured, running offline")
		return nil, nil
	}
	policy := external.DefaultRetryPolicy()
	policy.Attempts = cfg.Retry.Attempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.Multiplier = cfg.Retry.Multiplier
	policy.Jitter = cfg.Retry.Jitter

	opts := []fusion.DispatcherOption{fusion.WithRetryPolicy(policy)}
	if fallback != nil {
		opts = append(opts, fusion.WithFallback(fallback))
	}
	return fusion.NewDispatcher(chain, logger, opts...), nil
}

// NewEngine builds the fusion engine over tx.
func NewEngine(ctx context.Context, cfg *config.Config, tx *taxonomy.Taxonomy, logger *zap.Logger) (*fusion.Engine, error) {
	res, err := NewResolver(cfg.Resolver, tx)
	if err != nil {
		return nil, err
	}
	translator, err := NewTranslator(ctx, cfg.Translator, logger)
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return fusion.NewEngine(res, normalizer.NewSegmentExtractor(nil), translator, dispatcher, fusion.Config{
		TargetLanguage: cfg.Pipeline.TargetLanguage,
		CountryHint:    cfg.Pipeline.CountryHint,
	}, logger), nil
}
