// Package providers builds the application graph from config: logger,
// stores, adapters, the fusion engine and the services on top of it.
package providers

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
)

// NewLogger picks the production config for env "production" and the
// development config otherwise.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ConnectMongo connects and pings. The database is cfg.Database, or the
// database named in the URI.
func ConnectMongo(ctx context.Context, cfg config.MongoCfg, logger *zap.Logger) (*mongo.Database, error) {
	opts := options.Client().ApplyURI(cfg.URL)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	name := cfg.Database
	if name == "" {
		name = "address_normalizer"
	}
	logger.Info("Connected to MongoDB", zap.String("database", name))
	return client.Database(name), nil
}

func needsMongo(cfg *config.Config) bool {
	switch {
	case cfg.Cache.Backend == "mongo", cfg.Cache.Backend == "hybrid":
		return true
	case cfg.Review.Store == "mongo":
		return true
	case cfg.Taxonomy.Source == "mongo":
		return true
	}
	return false
}
