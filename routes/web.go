package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/address-normalizer/app/controllers"
)

// SetupWebRoutes serves the landing and docs pages.
func SetupWebRoutes(router *gin.Engine) {
	web := router.Group("/")
	{
		web.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "Address Normalizer",
				"version": controllers.Version,
				"docs":    "/docs",
			})
		})

		web.GET("/docs", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"api": "Address Normalizer API v1",
				"endpoints": map[string]string{
					"normalize":   "POST /v1/addresses/normalize",
					"batch":       "POST /v1/addresses/jobs",
					"upload":      "POST /v1/addresses/jobs/upload",
					"job_status":  "GET /v1/addresses/jobs/:jobID/status",
					"job_results": "GET /v1/addresses/jobs/:jobID/results?format=json|ndjson|csv|xlsx",
					"job_cancel":  "DELETE /v1/addresses/jobs/:jobID",
					"reviews":     "GET /v1/reviews",
					"review":      "POST /v1/reviews/:id/{approve,reject,correct}",
					"seed":        "POST /v1/admin/taxonomy/seed?dry_run=true",
					"suggest":     "GET /v1/admin/taxonomy/suggest?q=",
					"health":      "GET /v1/health",
				},
			})
		})
	}
}
