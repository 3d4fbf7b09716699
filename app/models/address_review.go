package models

import (
	"time"
)

// ReviewCandidate is an ambiguous resolver candidate kept for a reviewer.
type ReviewCandidate struct {
	Component Component `bson:"component" json:"component"`
	Fragment  string    `bson:"fragment" json:"fragment"`
	NodeID    string    `bson:"node_id,omitempty" json:"node_id,omitempty"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	Score     float64   `bson:"score" json:"score"`
}

// AddressReview is a NeedsReview outcome waiting for a human decision.
type AddressReview struct {
	ID           string             `bson:"_id" json:"id"`
	Key          string             `bson:"key" json:"key"`
	RawAddress   string             `bson:"raw_address" json:"raw_address"`
	AutoResult   NormalizedAddress  `bson:"auto_result" json:"auto_result"`
	Candidates   []ReviewCandidate  `bson:"candidates" json:"candidates"`
	Status       string             `bson:"status" json:"status"`
	ManualResult *NormalizedAddress `bson:"manual_result,omitempty" json:"manual_result,omitempty"`
	ReviewerID   *string            `bson:"reviewer_id,omitempty" json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time         `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// Status constants
const (
	ReviewStatusPending   = "pending"
	ReviewStatusApproved  = "approved"
	ReviewStatusCorrected = "corrected"
	ReviewStatusRejected  = "rejected"
)

// NewAddressReview creates a pending review for result.
func NewAddressReview(id string, result NormalizedAddress, candidates []ReviewCandidate) *AddressReview {
	return &AddressReview{
		ID:         id,
		Key:        result.Key,
		RawAddress: result.Raw,
		AutoResult: result,
		Candidates: candidates,
		Status:     ReviewStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// Approve accepts the automatic result.
func (ar *AddressReview) Approve(reviewerID string) {
	ar.finish(ReviewStatusApproved, reviewerID)
}

// Reject discards the automatic result without a replacement.
func (ar *AddressReview) Reject(reviewerID string) {
	ar.finish(ReviewStatusRejected, reviewerID)
}

// Correct stores a manual replacement. The corrected record supersedes the
// automatic one under the same key.
func (ar *AddressReview) Correct(result NormalizedAddress, reviewerID string) {
	ar.ManualResult = &result
	ar.finish(ReviewStatusCorrected, reviewerID)
}

func (ar *AddressReview) finish(status, reviewerID string) {
	ar.Status = status
	ar.ReviewerID = &reviewerID
	now := time.Now().UTC()
	ar.ReviewedAt = &now
}

// IsPending reports whether no decision has been made yet.
func (ar *AddressReview) IsPending() bool {
	return ar.Status == ReviewStatusPending
}
