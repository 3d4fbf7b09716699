package providers

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/services"
	"github.com/address-normalizer/internal/fusion"
	"github.com/address-normalizer/internal/pipeline"
	"github.com/address-normalizer/internal/queue"
	"github.com/address-normalizer/internal/search"
)

// App is the wired application.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *mongo.Database // nil unless a component needs MongoDB
	Engine  *fusion.Engine
	Cache   services.ICacheService
	Index   *search.TaxonomyIndex // nil when Meilisearch is disabled
	Reviews *services.ReviewService
	Admin   *services.AdminService
	Address *services.AddressService
	Runner  *pipeline.Runner

	// warmer is the cache front that supports WarmUp, if any.
	warmer queue.Warmer
}

// Build wires everything cfg asks for. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if needsMongo(cfg) {
		db, err := ConnectMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		a.DB = db
	}

	tx, err := LoadTaxonomy(cfg.Taxonomy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	if a.Engine, err = NewEngine(ctx, cfg, tx, logger); err != nil {
		a.Close()
		return nil, err
	}

	if a.Cache, a.warmer, err = NewCache(cfg.Cache, cfg.Redis, a.DB, logger); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Meili.Enabled {
		idx, err := search.NewTaxonomyIndex(search.SearchConfig{
			Host:      cfg.Meili.URL,
			APIKey:    cfg.Meili.MasterKey,
			IndexName: cfg.Meili.Index,
			Timeout:   cfg.Meili.Timeout,
		}, logger)
		if err != nil {
			logger.Warn("Meilisearch unavailable, reviewer suggestions disabled", zap.Error(err))
		} else {
			a.Index = idx
		}
	}

	reviewStore, aliasStore := NewReviewStores(cfg.Review, a.DB, logger)
	a.Reviews = services.NewReviewService(reviewStore, aliasStore, a.Cache, logger)
	a.Admin = services.NewAdminService(a.Engine, a.DB, a.Index, a.Cache, a.Reviews, logger)
	a.Reviews.OnAliasesLearned(a.Admin.ApplyAliases)

	if cfg.Taxonomy.Source == "mongo" {
		stored, err := a.Admin.LoadTaxonomy(ctx)
		if err != nil {
			logger.Warn("No stored taxonomy, keeping the file taxonomy", zap.Error(err))
		} else {
			a.Engine.SwapTaxonomy(stored)
		}
	}
	if learned, err := aliasStore.List(ctx); err != nil {
		logger.Warn("Could not load learned aliases", zap.Error(err))
	} else if len(learned) > 0 {
		if err := a.Admin.ApplyAliases(ctx, learned); err != nil {
			logger.Warn("Could not apply learned aliases", zap.Error(err))
		}
	}

	a.Runner = pipeline.NewRunner(a.Engine, a.Cache, a.Reviews, pipeline.Config{
		Workers:              cfg.Pipeline.Workers,
		TranslateMaxChars:    cfg.Translator.MaxChars,
		TranslateMaxSegments: cfg.Translator.MaxSegments,
	}, logger)
	a.Address = services.NewAddressService(a.Runner, logger)
	return a, nil
}

// WarmCache preloads the cache front, when the backend has one.
func (a *App) WarmCache(ctx context.Context, limit int) (int, error) {
	if a.warmer == nil {
		return 0, nil
	}
	return a.warmer.WarmUp(ctx, limit)
}

// Warmer returns the warm-up capable cache, or nil.
func (a *App) Warmer() queue.Warmer { return a.warmer }

// Close stops jobs and releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.Address != nil {
		a.Address.Shutdown()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Client().Disconnect(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("disconnect mongo: %w", err))
		}
	}
	return errors.Join(errs...)
}
