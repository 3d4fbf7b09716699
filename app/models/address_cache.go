package models

import (
	"crypto/sha256"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CacheEntry is one persisted raw-key to normalized-record mapping
type CacheEntry struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Fingerprint      string             `bson:"fingerprint" json:"fingerprint"`             // sha256 of the cache key
	Key              string             `bson:"key" json:"key"`                             // normalized raw string
	Value            NormalizedAddress  `bson:"value" json:"value"`                         // resolved record
	TaxonomyVersion  string             `bson:"taxonomy_version" json:"taxonomy_version"`   // taxonomy used for resolution
	ManuallyVerified bool               `bson:"manually_verified" json:"manually_verified"` // superseded by a reviewer
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
	LastAccessed     time.Time          `bson:"last_accessed" json:"last_accessed"`
	AccessCount      int                `bson:"access_count" json:"access_count"`
}

// NewCacheEntry wraps a record for storage under key.
func NewCacheEntry(key string, value NormalizedAddress) *CacheEntry {
	now := time.Now().UTC()
	return &CacheEntry{
		Fingerprint:      Fingerprint(key),
		Key:              key,
		Value:            value,
		TaxonomyVersion:  value.TaxonomyVersion,
		ManuallyVerified: value.ManuallyVerified,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastAccessed:     now,
		AccessCount:      1,
	}
}

// Fingerprint hashes a cache key.
func Fingerprint(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x", hash)
}

// UpdateAccess bumps access bookkeeping.
func (ce *CacheEntry) UpdateAccess() {
	ce.LastAccessed = time.Now().UTC()
	ce.AccessCount++
}

// IsValidTaxonomyVersion reports whether the entry was resolved against currentVersion.
func (ce *CacheEntry) IsValidTaxonomyVersion(currentVersion string) bool {
	return ce.TaxonomyVersion == currentVersion
}
