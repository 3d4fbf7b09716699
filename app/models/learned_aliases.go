package models

import (
	"time"
)

// LearnedAlias is an alternate spelling learned from a manual correction.
type LearnedAlias struct {
	Fragment   string    `bson:"fragment" json:"fragment"` // spelling seen in raw input
	AdminID    string    `bson:"admin_id" json:"admin_id"` // taxonomy node it resolves to
	Level      string    `bson:"level" json:"level"`
	Source     string    `bson:"source" json:"source"`
	UsageCount int       `bson:"usage_count" json:"usage_count"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	LastUsed   time.Time `bson:"last_used" json:"last_used"`
}

// Source constants
const (
	AliasSourceManual      = "manual"
	AliasSourceAutoLearned = "auto_learned"
)

// NewLearnedAlias creates an alias record.
func NewLearnedAlias(fragment, adminID, level, source string) *LearnedAlias {
	now := time.Now().UTC()
	return &LearnedAlias{
		Fragment:   fragment,
		AdminID:    adminID,
		Level:      level,
		Source:     source,
		UsageCount: 1,
		CreatedAt:  now,
		LastUsed:   now,
	}
}

// UpdateUsage bumps the usage counter.
func (la *LearnedAlias) UpdateUsage() {
	la.UsageCount++
	la.LastUsed = time.Now().UTC()
}
