package responses

import (
	"time"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/app/services"
	"github.com/address-normalizer/internal/search"
)

// NormalizeAddressResponse is the answer to a single normalize call.
type NormalizeAddressResponse struct {
	TaxonomyVersion  string                    `json:"taxonomy_version"`
	Result           *models.NormalizedAddress `json:"result"`
	ProcessingTimeMs int64                     `json:"processing_time_ms"`
}

// BatchNormalizeResponse acknowledges a batch job.
type BatchNormalizeResponse struct {
	JobID            string `json:"job_id"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	TotalAddresses   int    `json:"total_addresses"`
	Message          string `json:"message"`
}

// SeedTaxonomyResponse reports a seed or a dry run.
type SeedTaxonomyResponse struct {
	ValidationPassed bool                 `json:"validation_passed"`
	Warnings         []string             `json:"warnings,omitempty"`
	DryRun           bool                 `json:"dry_run"`
	Result           *services.SeedResult `json:"result,omitempty"`
	Message          string               `json:"message"`
}

// ReviewListResponse is a page of reviews.
type ReviewListResponse struct {
	Reviews []*models.AddressReview `json:"reviews"`
	Total   int                     `json:"total"`
	Pending int64                   `json:"pending"`
	Status  string                  `json:"status,omitempty"`
	Limit   int                     `json:"limit"`
}

// ReviewActionResponse reports a review decision.
type ReviewActionResponse struct {
	ReviewID  string                `json:"review_id"`
	Action    string                `json:"action"`
	Review    *models.AddressReview `json:"review"`
	UpdatedAt string                `json:"updated_at"`
}

// SuggestResponse lists reviewer suggestions.
type SuggestResponse struct {
	Fragment    string              `json:"fragment"`
	Suggestions []search.Suggestion `json:"suggestions"`
}

// ErrorResponse is every error body.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewError stamps an ErrorResponse.
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: code, Message: message, Timestamp: time.Now().Format(time.RFC3339)}
}

// SuccessResponse wraps plain payloads.
type SuccessResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewSuccess stamps a SuccessResponse.
func NewSuccess(message string, data interface{}) SuccessResponse {
	return SuccessResponse{Success: true, Message: message, Data: data, Timestamp: time.Now().Format(time.RFC3339)}
}

// HealthCheckResponse is served on /health.
type HealthCheckResponse struct {
	Status          string            `json:"status"`
	Timestamp       string            `json:"timestamp"`
	Uptime          string            `json:"uptime"`
	Version         string            `json:"version"`
	TaxonomyVersion string            `json:"taxonomy_version"`
	Services        map[string]string `json:"services"`
}
