package providers

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/services"
	"github.com/address-normalizer/internal/queue"
)

var errNoMongo = errors.New("backend needs MongoDB but none is connected")

// NewCache opens the configured cache backend. The second return is the
// store that supports WarmUp, nil for backends without one.
func NewCache(cfg config.CacheCfg, rcfg config.RedisCfg, db *mongo.Database, logger *zap.Logger) (services.ICacheService, queue.Warmer, error) {
	switch cfg.Backend {
	case "memory":
		return services.NewCacheService(cfg.TTL), nil, nil

	case "sqlite":
		c, err := services.NewSQLiteCacheService(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil

	case "redis":
		c, err := newRedisCache(cfg, rcfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil

	case "mongo":
		if db == nil {
			return nil, nil, fmt.Errorf("mongo cache: %w", errNoMongo)
		}
		c, err := services.NewMongoCacheService(db, cfg.L1Size, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "hybrid":
		if db == nil {
			return nil, nil, fmt.Errorf("hybrid cache: %w", errNoMongo)
		}
		l1, err := newRedisCache(cfg, rcfg, logger)
		if err != nil {
			return nil, nil, err
		}
		l2, err := services.NewMongoCacheService(db, cfg.L1Size, logger)
		if err != nil {
			_ = l1.Close()
			return nil, nil, err
		}
		return services.NewHybridCacheService(l1, l2, logger), l2, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

func newRedisCache(cfg config.CacheCfg, rcfg config.RedisCfg, logger *zap.Logger) (*services.RedisCacheService, error) {
	c, err := services.NewRedisCacheService(rcfg.URL, logger)
	if err != nil {
		return nil, err
	}
	if cfg.TTL > 0 {
		c.SetTTL(cfg.TTL)
	}
	return c, nil
}

// NewReviewStores returns the review and alias stores. MongoDB is used
// when configured and connected.
func NewReviewStores(cfg config.ReviewCfg, db *mongo.Database, logger *zap.Logger) (services.IReviewStore, services.IAliasStore) {
	if cfg.Store == "mongo" && db != nil {
		return services.NewMongoReviewStore(db, logger), services.NewMongoAliasStore(db)
	}
	if cfg.Store == "mongo" {
		logger.Warn("Review store falls back to memory: MongoDB not connected")
	}
	return services.NewMemoryReviewStore(), services.NewMemoryAliasStore()
}
