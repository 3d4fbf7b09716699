package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// DefaultIndex is the Meilisearch index holding taxonomy nodes.
const DefaultIndex = "admin_units"

var ErrNotFound = errors.New("admin unit not found")

// SearchConfig configures the Meilisearch connection.
type SearchConfig struct {
	Host          string
	APIKey        string
	IndexName     string
	Timeout       time.Duration
	MaxCandidates int
}

// Suggestion is one taxonomy node proposed for a fragment.
type Suggestion struct {
	AdminID  string   `json:"admin_id"`
	Name     string   `json:"name"`
	Level    string   `json:"level"`
	ParentID string   `json:"parent_id,omitempty"`
	Path     []string `json:"path,omitempty"`
	Score    float64  `json:"score"`
}

// TaxonomyIndex keeps a searchable copy of the taxonomy. The resolver never
// depends on it; it serves reviewers and the admin API.
type TaxonomyIndex struct {
	client    meilisearch.ServiceManager
	logger    *zap.Logger
	indexName string
	limit     int
}

// NewTaxonomyIndex connects and checks server health.
func NewTaxonomyIndex(cfg SearchConfig, logger *zap.Logger) (*TaxonomyIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultIndex
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	client := meilisearch.New(cfg.Host, meilisearch.WithAPIKey(cfg.APIKey))
	if _, err := client.Health(); err != nil {
		return nil, fmt.Errorf("connect meilisearch: %w", err)
	}
	return &TaxonomyIndex{
		client:    client,
		logger:    logger,
		indexName: cfg.IndexName,
		limit:     cfg.MaxCandidates,
	}, nil
}

// Configure sets searchable, filterable and typo settings.
func (ti *TaxonomyIndex) Configure() error {
	index := ti.client.Index(ti.indexName)
	task, err := index.UpdateSettings(&meilisearch.Settings{
		SearchableAttributes: []string{"name", "normalized_name", "alternates"},
		FilterableAttributes: []string{"admin_id", "level", "parent_id", "kind", "taxonomy_version"},
		SortableAttributes:   []string{"level", "admin_id"},
		RankingRules:         []string{"words", "typo", "proximity", "attribute", "sort", "exactness"},
		TypoTolerance: &meilisearch.TypoTolerance{
			Enabled: true,
			MinWordSizeForTypos: meilisearch.MinWordSizeForTypos{
				OneTypo:  4,
				TwoTypos: 8,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configure index: %w", err)
	}
	ti.logger.Info("Configured taxonomy index", zap.String("index", ti.indexName), zap.Int64("task_uid", task.TaskUID))
	return nil
}

// Seed replaces the index content with units, in batches of 1000.
func (ti *TaxonomyIndex) Seed(units []models.AdminUnit) (int, error) {
	if len(units) == 0 {
		return 0, errors.New("no units to seed")
	}
	index := ti.client.Index(ti.indexName)
	if _, err := index.DeleteAllDocuments(); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}

	docs := documents(units)
	const batchSize = 1000
	for i := 0; i < len(docs); i += batchSize {
		end := min(i+batchSize, len(docs))
		task, err := index.AddDocuments(docs[i:end], "id")
		if err != nil {
			return i, fmt.Errorf("add documents %d-%d: %w", i, end, err)
		}
		ti.logger.Debug("Added taxonomy batch",
			zap.Int("from", i),
			zap.Int("to", end),
			zap.Int64("task_uid", task.TaskUID))
	}
	ti.logger.Info("Seeded taxonomy index", zap.Int("documents", len(docs)))
	return len(docs), nil
}

// Suggest proposes nodes for a fragment. level and parentID narrow the
// search when set.
func (ti *TaxonomyIndex) Suggest(ctx context.Context, fragment, level, parentID string, limit int) ([]Suggestion, error) {
	if fragment == "" {
		return nil, errors.New("empty fragment")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ti.limit
	}
	res, err := ti.client.Index(ti.indexName).Search(fragment, &meilisearch.SearchRequest{
		Limit:            int64(limit),
		Filter:           FilterLevelParent(level, parentID),
		ShowRankingScore: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", fragment, err)
	}
	out := make([]Suggestion, 0, len(res.Hits))
	for _, hit := range res.Hits {
		u, score, ok := parseHit(hit)
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			AdminID:  u.AdminID,
			Name:     u.Name,
			Level:    u.Level,
			ParentID: u.ParentID,
			Path:     u.Path,
			Score:    score,
		})
	}
	return out, nil
}

// GetAdminUnit fetches one node by admin id.
func (ti *TaxonomyIndex) GetAdminUnit(ctx context.Context, id string) (*models.AdminUnit, error) {
	if id == "" {
		return nil, errors.New("empty id")
	}
	res, err := ti.client.Index(ti.indexName).Search("", &meilisearch.SearchRequest{
		Filter: fmt.Sprintf("admin_id = %q", id),
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("find admin unit: %w", err)
	}
	for _, hit := range res.Hits {
		if u, _, ok := parseHit(hit); ok {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateSynonyms publishes learned aliases as index synonyms. names maps
// admin ids to canonical names.
func (ti *TaxonomyIndex) UpdateSynonyms(aliases []models.LearnedAlias, names map[string]string) error {
	syn := synonymsFrom(aliases, names)
	task, err := ti.client.Index(ti.indexName).UpdateSynonyms(&syn)
	if err != nil {
		return fmt.Errorf("update synonyms: %w", err)
	}
	ti.logger.Info("Updated taxonomy synonyms", zap.Int("groups", len(syn)), zap.Int64("task_uid", task.TaskUID))
	return nil
}
