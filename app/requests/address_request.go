package requests

import (
	"fmt"
	"time"

	"github.com/address-normalizer/app/models"
)

// MaxBatchSize caps one batch job.
const MaxBatchSize = 20000

// NormalizeAddressRequest normalizes one listing address.
type NormalizeAddressRequest struct {
	Address     string     `json:"address" binding:"required"`
	Language    string     `json:"language,omitempty"`
	CountryHint string     `json:"country_hint,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	ListingDate *time.Time `json:"listing_date,omitempty"`
}

// Raw converts the request to a pipeline record.
func (r NormalizeAddressRequest) Raw() models.RawAddress {
	return models.RawAddress{
		Text:        r.Address,
		Language:    r.Language,
		CountryHint: r.CountryHint,
		Currency:    r.Currency,
		ListingDate: r.ListingDate,
	}
}

// BatchNormalizeRequest starts a batch job. Either Addresses (bare strings)
// or Records may be given; Records win when both are set.
type BatchNormalizeRequest struct {
	Addresses []string            `json:"addresses,omitempty" binding:"omitempty,max=20000"`
	Records   []models.RawAddress `json:"records,omitempty" binding:"omitempty,max=20000"`
}

// Raw returns the records to run, in request order.
func (r BatchNormalizeRequest) Raw() ([]models.RawAddress, error) {
	if len(r.Records) > 0 {
		return r.Records, nil
	}
	if len(r.Addresses) == 0 {
		return nil, fmt.Errorf("addresses or records are required")
	}
	out := make([]models.RawAddress, len(r.Addresses))
	for i, a := range r.Addresses {
		out[i] = models.RawAddress{Text: a}
	}
	return out, nil
}

// SeedTaxonomyRequest replaces the reference taxonomy.
type SeedTaxonomyRequest struct {
	Data         []models.AdminUnit `json:"data" binding:"required,min=1"`
	RebuildIndex bool               `json:"rebuild_index,omitempty"`
}

// ReviewDecisionRequest approves or rejects a review.
type ReviewDecisionRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
}

// ReviewCorrectRequest corrects a review. Values are keyed by component
// name, e.g. "town" or "street".
type ReviewCorrectRequest struct {
	ReviewerID string            `json:"reviewer_id" binding:"required"`
	Values     map[string]string `json:"values" binding:"required,min=1"`
}

// Components validates the component names.
func (r ReviewCorrectRequest) Components() (map[models.Component]string, error) {
	known := make(map[models.Component]bool, len(models.Components))
	for _, c := range models.Components {
		known[c] = true
	}
	out := make(map[models.Component]string, len(r.Values))
	for k, v := range r.Values {
		c := models.Component(k)
		if !known[c] {
			return nil, fmt.Errorf("unknown component %q", k)
		}
		out[c] = v
	}
	return out, nil
}
