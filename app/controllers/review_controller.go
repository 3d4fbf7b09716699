package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/app/requests"
	"github.com/address-normalizer/app/responses"
	"github.com/address-normalizer/app/services"
	"github.com/address-normalizer/internal/search"
)

// ReviewController serves the manual review queue.
type ReviewController struct {
	reviews *services.ReviewService
	admin   *services.AdminService
	logger  *zap.Logger
}

// NewReviewController wires the queue; admin may be nil, which disables
// suggestions.
func NewReviewController(reviews *services.ReviewService, admin *services.AdminService, logger *zap.Logger) *ReviewController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewController{reviews: reviews, admin: admin, logger: logger}
}

func reviewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrReviewNotFound):
		abort(c, http.StatusNotFound, "REVIEW_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrReviewClosed):
		abort(c, http.StatusConflict, "REVIEW_CLOSED", err.Error())
	default:
		abort(c, http.StatusInternalServerError, "REVIEW_ERROR", err.Error())
	}
}

// List returns reviews with ?status (pending by default; "all" for every
// status), oldest first.
func (rc *ReviewController) List(c *gin.Context) {
	status := c.DefaultQuery("status", models.ReviewStatusPending)
	if status == "all" {
		status = ""
	}
	limit := queryInt(c, "limit", 50)

	ctx := c.Request.Context()
	reviews, err := rc.reviews.List(ctx, status, limit)
	if err != nil {
		reviewError(c, err)
		return
	}
	pending, err := rc.reviews.PendingCount(ctx)
	if err != nil {
		reviewError(c, err)
		return
	}
	if reviews == nil {
		reviews = []*models.AddressReview{}
	}
	c.JSON(http.StatusOK, responses.ReviewListResponse{
		Reviews: reviews,
		Total:   len(reviews),
		Pending: pending,
		Status:  status,
		Limit:   limit,
	})
}

func (rc *ReviewController) Get(c *gin.Context) {
	r, err := rc.reviews.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		reviewError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (rc *ReviewController) Approve(c *gin.Context) {
	rc.decide(c, "approve", func(ctx context.Context, id, reviewer string) (*models.AddressReview, error) {
		return rc.reviews.Approve(ctx, id, reviewer)
	})
}

func (rc *ReviewController) Reject(c *gin.Context) {
	rc.decide(c, "reject", func(ctx context.Context, id, reviewer string) (*models.AddressReview, error) {
		return rc.reviews.Reject(ctx, id, reviewer)
	})
}

func (rc *ReviewController) decide(c *gin.Context, action string, fn func(ctx context.Context, id, reviewer string) (*models.AddressReview, error)) {
	var req requests.ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}
	r, err := fn(c.Request.Context(), c.Param("id"), req.ReviewerID)
	if err != nil {
		reviewError(c, err)
		return
	}
	rc.respond(c, action, r)
}

// Correct applies manual component values and learns aliases from them.
func (rc *ReviewController) Correct(c *gin.Context) {
	var req requests.ReviewCorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request: "+err.Error())
		return
	}
	values, err := req.Components()
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_COMPONENT", err.Error())
		return
	}
	r, err := rc.reviews.Correct(c.Request.Context(), c.Param("id"), values, req.ReviewerID)
	if err != nil {
		reviewError(c, err)
		return
	}
	rc.respond(c, "correct", r)
}

func (rc *ReviewController) respond(c *gin.Context, action string, r *models.AddressReview) {
	updated := time.Now()
	if r.ReviewedAt != nil {
		updated = *r.ReviewedAt
	}
	c.JSON(http.StatusOK, responses.ReviewActionResponse{
		ReviewID:  r.ID,
		Action:    action,
		Review:    r,
		UpdatedAt: updated.Format(time.RFC3339),
	})
}

// Suggestions searches the taxonomy index for every unresolved fragment of
// a review.
func (rc *ReviewController) Suggestions(c *gin.Context) {
	ctx := c.Request.Context()
	r, err := rc.reviews.Get(ctx, c.Param("id"))
	if err != nil {
		reviewError(c, err)
		return
	}
	if rc.admin == nil {
		abort(c, http.StatusServiceUnavailable, "SEARCH_DISABLED", services.ErrNoSearchIndex.Error())
		return
	}

	seen := make(map[string]bool)
	out := make(map[string][]search.Suggestion)
	for _, cand := range r.Candidates {
		if cand.Fragment == "" || seen[cand.Fragment] {
			continue
		}
		seen[cand.Fragment] = true
		s, err := rc.admin.Suggest(ctx, cand.Fragment, levelOf(cand.Component), "", 5)
		if err != nil {
			if errors.Is(err, services.ErrNoSearchIndex) {
				abort(c, http.StatusServiceUnavailable, "SEARCH_DISABLED", err.Error())
				return
			}
			rc.logger.Warn("Suggestion lookup failed", zap.String("fragment", cand.Fragment), zap.Error(err))
			continue
		}
		out[cand.Fragment] = s
	}
	c.JSON(http.StatusOK, gin.H{"review_id": r.ID, "suggestions": out})
}

func levelOf(c models.Component) string {
	switch c {
	case models.ComponentProvince:
		return models.LevelNameProvince
	case models.ComponentAdministrativeUnit:
		return models.LevelNameAdministrativeUnit
	case models.ComponentTown, models.ComponentVillage:
		return models.LevelNameSettlement
	}
	return ""
}
