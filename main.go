package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/controllers"
	"github.com/address-normalizer/app/providers"
	"github.com/address-normalizer/routes"
)

func main() {
	path := os.Getenv(config.EnvPrefix + "_CONFIG")
	if path == "" {
		path = "config/pipeline.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logger, err := providers.NewLogger(cfg.App.Env)
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Address Normalizer", zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := providers.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to wire application", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Error releasing resources", zap.Error(err))
		}
	}()

	if cfg.Cache.WarmUp > 0 {
		n, err := app.WarmCache(ctx, cfg.Cache.WarmUp)
		if err != nil {
			logger.Warn("Failed to warm up cache", zap.Error(err))
		} else {
			logger.Info("Cache warmed up", zap.Int("records", n))
		}
	}

	addressController := controllers.NewAddressController(app.Address, app.Cache, logger)
	adminController := controllers.NewAdminController(app.Admin, app.Cache, logger)
	reviewController := controllers.NewReviewController(app.Reviews, app.Admin, logger)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupAllRoutes(router, logger, addressController, adminController, reviewController)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Address Normalizer listening",
			zap.String("port", cfg.App.Port),
			zap.String("taxonomy_version", app.Admin.TaxonomyVersion()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shut down", zap.Error(err))
	}
}
