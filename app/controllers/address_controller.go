package controllers

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/app/requests"
	"github.com/address-normalizer/app/responses"
	"github.com/address-normalizer/app/services"
	"github.com/address-normalizer/internal/tabular"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// AddressController serves normalization and batch jobs.
type AddressController struct {
	addressService *services.AddressService
	cacheService   services.ICacheService
	logger         *zap.Logger
}

func NewAddressController(addressService *services.AddressService, cacheService services.ICacheService, logger *zap.Logger) *AddressController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddressController{
		addressService: addressService,
		cacheService:   cacheService,
		logger:         logger,
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, responses.NewError(code, message))
}

// jobError maps service errors to HTTP statuses.
func jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		abort(c, http.StatusNotFound, "JOB_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrJobNotFinished):
		abort(c, http.StatusConflict, "JOB_NOT_FINISHED", err.Error())
	default:
		abort(c, http.StatusInternalServerError, "JOB_ERROR", err.Error())
	}
}

// NormalizeAddress resolves one address synchronously.
func (ac *AddressController) NormalizeAddress(c *gin.Context) {
	var req requests.NormalizeAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}

	start := time.Now()
	result, err := ac.addressService.NormalizeAddress(c.Request.Context(), req.Raw())
	if err != nil {
		if errors.Is(err, services.ErrEmptyAddress) {
			abort(c, http.StatusBadRequest, "EMPTY_ADDRESS", err.Error())
			return
		}
		ac.logger.Error("Normalize failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, "NORMALIZE_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, responses.NormalizeAddressResponse{
		TaxonomyVersion:  result.TaxonomyVersion,
		Result:           result,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

// BatchNormalize starts a background job from a JSON body.
func (ac *AddressController) BatchNormalize(c *gin.Context) {
	var req requests.BatchNormalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}
	records, err := req.Raw()
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	ac.startJob(c, records)
}

// UploadBatch starts a job from an uploaded CSV, XLSX or NDJSON file in
// the "file" form field. "column" and "sheet" select the input.
func (ac *AddressController) UploadBatch(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "MISSING_FILE", "form field file is required")
		return
	}
	format, err := tabular.FormatFromPath(fh.Filename)
	if err != nil {
		abort(c, http.StatusBadRequest, "UNSUPPORTED_FILE", err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "UNREADABLE_FILE", err.Error())
		return
	}
	defer f.Close()

	opts := tabular.ReadOptions{Column: c.PostForm("column"), Sheet: c.PostForm("sheet")}
	var records []models.RawAddress
	switch format {
	case tabular.FormatCSV:
		records, err = tabular.ReadCSV(f, opts)
	case tabular.FormatXLSX:
		records, err = tabular.ReadXLSX(f, opts)
	default:
		records, err = tabular.ReadNDJSON(f)
	}
	if err != nil {
		abort(c, http.StatusBadRequest, "UNREADABLE_FILE", err.Error())
		return
	}
	if len(records) == 0 {
		abort(c, http.StatusBadRequest, "EMPTY_FILE", "no records in file")
		return
	}
	ac.startJob(c, records)
}

func (ac *AddressController) startJob(c *gin.Context, records []models.RawAddress) {
	if len(records) > requests.MaxBatchSize {
		abort(c, http.StatusBadRequest, "TOO_MANY_ADDRESSES",
			fmt.Sprintf("at most %d addresses per job", requests.MaxBatchSize))
		return
	}
	jobID := ac.addressService.StartBatchJob(records)
	ac.logger.Info("Batch job started", zap.String("job_id", jobID), zap.Int("records", len(records)))

	c.JSON(http.StatusAccepted, responses.BatchNormalizeResponse{
		JobID:            jobID,
		EstimatedSeconds: ac.addressService.EstimateBatchProcessingTime(len(records)),
		TotalAddresses:   len(records),
		Message:          "job accepted",
	})
}

func (ac *AddressController) GetJobStatus(c *gin.Context) {
	status, err := ac.addressService.GetJobStatus(c.Param("jobID"))
	if err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CancelJob stops a running job; finished records are kept.
func (ac *AddressController) CancelJob(c *gin.Context) {
	jobID := c.Param("jobID")
	if err := ac.addressService.CancelJob(jobID); err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, responses.NewSuccess("cancellation requested", gin.H{"job_id": jobID}))
}

// GetJobResults returns results as JSON, or with ?format=ndjson|csv|xlsx.
// NDJSON honours ?gzip=1.
func (ac *AddressController) GetJobResults(c *gin.Context) {
	jobID := c.Param("jobID")
	format := strings.ToLower(c.DefaultQuery("format", "json"))

	if format == "ndjson" {
		ac.streamNDJSONResults(c, jobID, c.Query("gzip") == "1")
		return
	}

	results, err := ac.addressService.GetJobResults(jobID)
	if err != nil {
		jobError(c, err)
		return
	}

	switch format {
	case "json":
		c.JSON(http.StatusOK, responses.NewSuccess("results", results))
	case "csv":
		attachment(c, jobID, "csv", "text/csv")
		if err := tabular.WriteCSV(c.Writer, results); err != nil {
			ac.logger.Error("Could not write CSV results", zap.Error(err))
		}
	case "xlsx":
		attachment(c, jobID, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := tabular.WriteXLSX(c.Writer, results); err != nil {
			ac.logger.Error("Could not write XLSX results", zap.Error(err))
		}
	default:
		abort(c, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be json, ndjson, csv or xlsx")
	}
}

func attachment(c *gin.Context, jobID, ext, contentType string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "results_"+jobID+"."+ext))
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
}

// HealthCheck reports liveness and the taxonomy in use.
func (ac *AddressController) HealthCheck(c *gin.Context) {
	deps := map[string]string{"pipeline": "healthy", "cache": "healthy"}
	if ac.cacheService != nil {
		if _, err := ac.cacheService.GetStats(c.Request.Context()); err != nil {
			deps["cache"] = "degraded"
		}
	}
	status := "healthy"
	if deps["cache"] != "healthy" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, responses.HealthCheckResponse{
		Status:          status,
		Timestamp:       time.Now().Format(time.RFC3339),
		Uptime:          time.Since(ac.addressService.GetStartTime()).Round(time.Second).String(),
		Version:         Version,
		TaxonomyVersion: ac.addressService.Runner().Engine().Taxonomy().Version(),
		Services:        deps,
	})
}

// GetStats reports job counts.
func (ac *AddressController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, ac.addressService.GetStats())
}

func (ac *AddressController) streamNDJSONResults(c *gin.Context, jobID string, gzipEnabled bool) {
	resultChannel, err := ac.addressService.GetJobResultsStream(c.Request.Context(), jobID)
	if err != nil {
		jobError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	var writer gin.ResponseWriter = c.Writer
	if gzipEnabled {
		c.Header("Content-Encoding", "gzip")
		gzWriter := gzip.NewWriter(c.Writer)
		defer gzWriter.Close()
		writer = &gzipResponseWriter{ResponseWriter: c.Writer, gzWriter: gzWriter}
	}
	c.Status(http.StatusOK)

	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)
	for result := range resultChannel {
		if err := encoder.Encode(result); err != nil {
			ac.logger.Error("Could not encode NDJSON result", zap.Error(err))
			break
		}
		writer.Flush()
	}
}

type gzipResponseWriter struct {
	gin.ResponseWriter
	gzWriter *gzip.Writer
}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	return w.gzWriter.Write(data)
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.gzWriter.Write([]byte(s))
}

func (w *gzipResponseWriter) Flush() {
	w.gzWriter.Flush()
	w.ResponseWriter.Flush()
}
