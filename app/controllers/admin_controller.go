package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/requests"
	"github.com/address-normalizer/app/responses"
	"github.com/address-normalizer/app/services"
)

// AdminController serves taxonomy, cache and adapter maintenance.
type AdminController struct {
	adminService *services.AdminService
	cacheService services.ICacheService
	logger       *zap.Logger
}

func NewAdminController(adminService *services.AdminService, cacheService services.ICacheService, logger *zap.Logger) *AdminController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminController{
		adminService: adminService,
		cacheService: cacheService,
		logger:       logger,
	}
}

// SeedTaxonomy replaces the taxonomy. With ?dry_run=true the records are
// only validated.
func (ac *AdminController) SeedTaxonomy(c *gin.Context) {
	var req requests.SeedTaxonomyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}

	if c.Query("dry_run") == "true" {
		v := ac.adminService.ValidateTaxonomyData(req.Data)
		c.JSON(http.StatusOK, responses.SeedTaxonomyResponse{
			ValidationPassed: v.Passed,
			Warnings:         v.Warnings,
			DryRun:           true,
			Message:          fmt.Sprintf("%d nodes validated", v.Nodes),
		})
		return
	}

	result, err := ac.adminService.SeedTaxonomy(c.Request.Context(), req.Data, req.RebuildIndex)
	if err != nil {
		ac.logger.Error("Taxonomy seed failed", zap.Error(err))
		abort(c, http.StatusUnprocessableEntity, "SEED_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, responses.SeedTaxonomyResponse{
		ValidationPassed: true,
		Result:           result,
		Message:          "taxonomy " + result.Version + " in use",
	})
}

// Suggest proposes taxonomy nodes for ?q, optionally under ?level and
// ?parent_id.
func (ac *AdminController) Suggest(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		abort(c, http.StatusBadRequest, "MISSING_QUERY", "q is required")
		return
	}
	limit := queryInt(c, "limit", 10)
	suggestions, err := ac.adminService.Suggest(c.Request.Context(), q, c.Query("level"), c.Query("parent_id"), limit)
	if err != nil {
		if errors.Is(err, services.ErrNoSearchIndex) {
			abort(c, http.StatusServiceUnavailable, "SEARCH_DISABLED", err.Error())
			return
		}
		abort(c, http.StatusBadGateway, "SEARCH_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, responses.SuggestResponse{Fragment: q, Suggestions: suggestions})
}

// InvalidateCache drops records of other taxonomy versions than
// ?taxonomy_version, the current one by default.
func (ac *AdminController) InvalidateCache(c *gin.Context) {
	version := c.DefaultQuery("taxonomy_version", ac.adminService.TaxonomyVersion())
	start := time.Now()

	n, err := ac.cacheService.InvalidateByTaxonomyVersion(c.Request.Context(), version)
	if err != nil {
		ac.logger.Error("Cache invalidation failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, "INVALIDATE_ERROR", err.Error())
		return
	}
	ac.logger.Info("Cache invalidated",
		zap.String("version", version),
		zap.Int64("removed", n),
		zap.Duration("duration", time.Since(start)))
	c.JSON(http.StatusOK, responses.NewSuccess("cache invalidated", gin.H{
		"taxonomy_version":   version,
		"removed":            n,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}))
}

// ClearCache empties the cache.
func (ac *AdminController) ClearCache(c *gin.Context) {
	if err := ac.cacheService.Clear(c.Request.Context()); err != nil {
		abort(c, http.StatusInternalServerError, "CLEAR_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, responses.NewSuccess("cache cleared", nil))
}

func (ac *AdminController) GetStats(c *gin.Context) {
	stats, err := ac.adminService.GetSystemStats(c.Request.Context())
	if err != nil {
		ac.logger.Error("Could not collect stats", zap.Error(err))
		abort(c, http.StatusInternalServerError, "STATS_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ResetAdapters re-enables geocoders disabled for the rest of a run.
func (ac *AdminController) ResetAdapters(c *gin.Context) {
	reset := ac.adminService.ResetAdapters()
	c.JSON(http.StatusOK, responses.NewSuccess("adapters reset", gin.H{"reset": reset}))
}

// ExportData downloads a collection as JSON.
func (ac *AdminController) ExportData(c *gin.Context) {
	dataType := c.Param("type")
	data, err := ac.adminService.ExportData(c.Request.Context(), dataType, queryInt(c, "limit", 10000))
	if err != nil {
		ac.logger.Error("Export failed", zap.String("type", dataType), zap.Error(err))
		abort(c, http.StatusBadRequest, "EXPORT_ERROR", err.Error())
		return
	}
	filename := fmt.Sprintf("%s_export_%s.json", dataType, time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json", data)
}

func queryInt(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil && v > 0 {
		return v
	}
	return def
}
