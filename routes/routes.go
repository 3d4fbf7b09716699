// Package routes mounts the HTTP API on a gin engine.
//
//   - api.go: /v1 API and health probes
//   - web.go: / and /docs
//   - routes.go: middleware and SetupAllRoutes
package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/controllers"
)

// SetupAllRoutes installs middleware and every route.
func SetupAllRoutes(router *gin.Engine, logger *zap.Logger, addressController *controllers.AddressController, adminController *controllers.AdminController, reviewController *controllers.ReviewController) {
	setupMiddleware(router, logger)

	SetupWebRoutes(router)
	SetupHealthRoutes(router, addressController)
	SetupAPIRoutes(router, addressController, adminController, reviewController)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})
}

func setupMiddleware(router *gin.Engine, logger *zap.Logger) {
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}
