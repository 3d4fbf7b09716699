package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/address-normalizer/app/controllers"
)

// SetupAPIRoutes mounts the /v1 API.
func SetupAPIRoutes(router *gin.Engine, addressController *controllers.AddressController, adminController *controllers.AdminController, reviewController *controllers.ReviewController) {
	v1 := router.Group("/v1")
	{
		addresses := v1.Group("/addresses")
		{
			addresses.POST("/normalize", addressController.NormalizeAddress)
			addresses.POST("/jobs", addressController.BatchNormalize)
			addresses.POST("/jobs/upload", addressController.UploadBatch)
			addresses.GET("/jobs/:jobID/status", addressController.GetJobStatus)
			addresses.GET("/jobs/:jobID/results", addressController.GetJobResults)
			addresses.DELETE("/jobs/:jobID", addressController.CancelJob)
			addresses.GET("/stats", addressController.GetStats)
		}

		reviews := v1.Group("/reviews")
		{
			reviews.GET("", reviewController.List)
			reviews.GET("/:id", reviewController.Get)
			reviews.GET("/:id/suggestions", reviewController.Suggestions)
			reviews.POST("/:id/approve", reviewController.Approve)
			reviews.POST("/:id/reject", reviewController.Reject)
			reviews.POST("/:id/correct", reviewController.Correct)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/taxonomy/seed", adminController.SeedTaxonomy)
			admin.GET("/taxonomy/suggest", adminController.Suggest)
			admin.POST("/cache/invalidate", adminController.InvalidateCache)
			admin.DELETE("/cache", adminController.ClearCache)
			admin.POST("/adapters/reset", adminController.ResetAdapters)
			admin.GET("/stats", adminController.GetStats)
			admin.GET("/export/:type", adminController.ExportData)
		}

		v1.GET("/health", addressController.HealthCheck)
	}
}

// SetupHealthRoutes mounts root health probes.
func SetupHealthRoutes(router *gin.Engine, addressController *controllers.AddressController) {
	router.GET("/health", addressController.HealthCheck)
	router.GET("/ready", addressController.HealthCheck)
	router.GET("/live", addressController.HealthCheck)
}
