package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/fusion"
	"github.com/address-normalizer/internal/search"
	"github.com/address-normalizer/internal/taxonomy"
)

// AdminUnitCollection stores the flattened taxonomy.
const AdminUnitCollection = "admin_units"

// AdminService manages the taxonomy, its search index and system stats.
type AdminService struct {
	engine  *fusion.Engine
	db      *mongo.Database       // optional
	index   *search.TaxonomyIndex // optional
	cache   ICacheService         // optional
	reviews *ReviewService        // optional
	logger  *zap.Logger

	startTime time.Time
	mu        sync.Mutex // serializes taxonomy swaps
}

// TaxonomyValidation is the result of checking taxonomy records.
type TaxonomyValidation struct {
	Passed   bool     `json:"passed"`
	Warnings []string `json:"warnings"`
	Version  string   `json:"version,omitempty"`
	Nodes    int      `json:"nodes"`
}

// ErrNoSearchIndex is returned by Suggest without Meilisearch.
var ErrNoSearchIndex = errors.New("search index not configured")

// SeedResult reports a taxonomy seed.
type SeedResult struct {
	Version          string `json:"version"`
	UnitsProcessed   int    `json:"units_processed"`
	IndexesBuilt     int    `json:"indexes_built"`
	Invalidated      int64  `json:"invalidated"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// SystemStats is a snapshot of the running service.
type SystemStats struct {
	TaxonomyVersion  string                 `json:"taxonomy_version"`
	TaxonomyNodes    int                    `json:"taxonomy_nodes"`
	ReviewQueueSize  int64                  `json:"review_queue_size"`
	Cache            *CacheStats            `json:"cache,omitempty"`
	DisabledAdapters []string               `json:"disabled_adapters,omitempty"`
	Uptime           string                 `json:"uptime"`
	MemoryUsage      map[string]interface{} `json:"memory_usage"`
	DatabaseStats    *DatabaseStats         `json:"database_stats,omitempty"`
}

// DatabaseStats counts documents per collection.
type DatabaseStats struct {
	AdminUnits     int64 `json:"admin_units"`
	AddressCache   int64 `json:"address_cache"`
	AddressReview  int64 `json:"address_review"`
	LearnedAliases int64 `json:"learned_aliases"`
}

func NewAdminService(engine *fusion.Engine, db *mongo.Database, index *search.TaxonomyIndex, cache ICacheService, reviews *ReviewService, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		engine:    engine,
		db:        db,
		index:     index,
		cache:     cache,
		reviews:   reviews,
		logger:    logger,
		startTime: time.Now(),
	}
}

// ValidateTaxonomyData checks records for duplicates, missing fields and a
// buildable tree.
func (as *AdminService) ValidateTaxonomyData(units []models.AdminUnit) *TaxonomyValidation {
	if len(units) == 0 {
		return &TaxonomyValidation{Warnings: []string{"no records to validate"}}
	}
	var warnings []string
	seen := make(map[string]bool, len(units))
	for i, u := range units {
		if u.AdminID != "" && seen[u.AdminID] {
			warnings = append(warnings, fmt.Sprintf("duplicate admin_id %s", u.AdminID))
		}
		seen[u.AdminID] = true
		if u.Name == "" {
			warnings = append(warnings, fmt.Sprintf("missing name at index %d", i))
		}
		if !u.IsValidLevel() {
			warnings = append(warnings, fmt.Sprintf("invalid level %q at index %d", u.Level, i))
		}
	}
	for _, u := range units {
		if u.ParentID != "" && !seen[u.ParentID] {
			warnings = append(warnings, fmt.Sprintf("unknown parent_id %s of %s", u.ParentID, u.AdminID))
		}
	}

	out := &TaxonomyValidation{Warnings: warnings}
	if len(warnings) > 0 {
		return out
	}
	tx, err := taxonomy.FromRecords(units)
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
		return out
	}
	out.Passed = true
	out.Version = tx.Version()
	out.Nodes = tx.Size()
	return out
}

// SeedTaxonomy replaces the taxonomy everywhere it lives: MongoDB, the search
// index and the running engine. Cached results of older versions are
// invalidated.
func (as *AdminService) SeedTaxonomy(ctx context.Context, units []models.AdminUnit, rebuildIndex bool) (*SeedResult, error) {
	start := time.Now()
	v := as.ValidateTaxonomyData(units)
	if !v.Passed {
		return nil, fmt.Errorf("invalid taxonomy: %v", v.Warnings)
	}
	tx, err := taxonomy.FromRecords(units)
	if err != nil {
		return nil, err
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	records := tx.Records()
	if as.db != nil {
		if err := as.storeRecords(ctx, records); err != nil {
			return nil, err
		}
	}

	res := &SeedResult{Version: tx.Version(), UnitsProcessed: len(records)}
	if rebuildIndex && as.index != nil {
		if err := as.index.Configure(); err != nil {
			as.logger.Warn("Could not configure taxonomy index", zap.Error(err))
		} else {
			res.IndexesBuilt++
		}
		if _, err := as.index.Seed(records); err != nil {
			as.logger.Warn("Could not seed taxonomy index", zap.Error(err))
		} else {
			res.IndexesBuilt++
		}
	}

	as.engine.SwapTaxonomy(tx)
	if as.cache != nil {
		n, err := as.cache.InvalidateByTaxonomyVersion(ctx, tx.Version())
		if err != nil {
			as.logger.Warn("Cache invalidation failed", zap.Error(err))
		}
		res.Invalidated = n
	}
	res.ProcessingTimeMs = time.Since(start).Milliseconds()

	as.logger.Info("Taxonomy seed completed",
		zap.String("taxonomy_version", res.Version),
		zap.Int("units_processed", res.UnitsProcessed),
		zap.Int("indexes_built", res.IndexesBuilt),
		zap.Int64("invalidated", res.Invalidated),
		zap.Duration("processing_time", time.Since(start)))
	return res, nil
}

func (as *AdminService) storeRecords(ctx context.Context, records []models.AdminUnit) error {
	collection := as.db.Collection(AdminUnitCollection)
	if _, err := collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("delete old admin units: %w", err)
	}
	now := time.Now().UTC()
	docs := make([]interface{}, len(records))
	for i, r := range records {
		r.UpdatedAt = now
		docs[i] = r
	}
	if _, err := collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert admin units: %w", err)
	}
	return nil
}

// LoadTaxonomy reads the stored taxonomy back from MongoDB.
func (as *AdminService) LoadTaxonomy(ctx context.Context) (*taxonomy.Taxonomy, error) {
	if as.db == nil {
		return nil, errors.New("no database configured")
	}
	cursor, err := as.db.Collection(AdminUnitCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find admin units: %w", err)
	}
	var units []models.AdminUnit
	if err := cursor.All(ctx, &units); err != nil {
		return nil, fmt.Errorf("decode admin units: %w", err)
	}
	return taxonomy.FromRecords(units)
}

// ApplyAliases rebuilds the running taxonomy with learned aliases as extra
// alternates and publishes them as index synonyms. It is the review queue's
// alias hook. Cached results stay valid.
func (as *AdminService) ApplyAliases(ctx context.Context, aliases []models.LearnedAlias) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	current := as.engine.Taxonomy()
	tx, skipped, err := current.WithAliases(aliases)
	if err != nil {
		return fmt.Errorf("apply aliases: %w", err)
	}
	for _, a := range skipped {
		as.logger.Warn("Alias names an unknown node", zap.String("fragment", a.Fragment), zap.String("admin_id", a.AdminID))
	}
	if tx.Learned() == current.Learned() {
		return nil
	}
	// the version is unchanged, so cached results are kept
	as.engine.SwapTaxonomy(tx)

	if as.index != nil {
		names := make(map[string]string, len(aliases))
		for _, a := range aliases {
			if n := tx.ByID(a.AdminID); n != nil {
				names[a.AdminID] = n.Name
			}
		}
		if err := as.index.UpdateSynonyms(aliases, names); err != nil {
			as.logger.Warn("Could not update synonyms", zap.Error(err))
		}
	}
	return nil
}

// Suggest proposes taxonomy nodes for a fragment through the search index.
func (as *AdminService) Suggest(ctx context.Context, fragment, level, parentID string, limit int) ([]search.Suggestion, error) {
	if as.index == nil {
		return nil, ErrNoSearchIndex
	}
	return as.index.Suggest(ctx, fragment, level, parentID, limit)
}

// TaxonomyVersion is the version of the taxonomy in use.
func (as *AdminService) TaxonomyVersion() string { return as.engine.Taxonomy().Version() }

// ResetAdapters re-enables geocoders disabled by quota errors and returns
// the ones that were disabled.
func (as *AdminService) ResetAdapters() []string {
	d := as.engine.Dispatcher()
	if d == nil {
		return nil
	}
	disabled := d.Disabled()
	d.Reset()
	if len(disabled) > 0 {
		as.logger.Info("Geocoders re-enabled", zap.Strings("adapters", disabled))
	}
	return disabled
}

// GetSystemStats collects taxonomy, cache, queue and process figures.
func (as *AdminService) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	tx := as.engine.Taxonomy()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := &SystemStats{
		TaxonomyVersion: tx.Version(),
		TaxonomyNodes:   tx.Size(),
		Uptime:          time.Since(as.startTime).Round(time.Second).String(),
		MemoryUsage: map[string]interface{}{
			"alloc_mb":       bToMb(m.Alloc),
			"total_alloc_mb": bToMb(m.TotalAlloc),
			"sys_mb":         bToMb(m.Sys),
			"num_gc":         m.NumGC,
			"goroutines":     runtime.NumGoroutine(),
		},
	}
	if d := as.engine.Dispatcher(); d != nil {
		stats.DisabledAdapters = d.Disabled()
	}
	if as.cache != nil {
		cs, err := as.cache.GetStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache stats: %w", err)
		}
		stats.Cache = cs
	}
	if as.reviews != nil {
		n, err := as.reviews.PendingCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("review queue size: %w", err)
		}
		stats.ReviewQueueSize = n
	}
	if as.db != nil {
		ds, err := as.getDatabaseStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("database stats: %w", err)
		}
		stats.DatabaseStats = ds
	}
	return stats, nil
}

func (as *AdminService) getDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}
	for name, into := range map[string]*int64{
		AdminUnitCollection: &stats.AdminUnits,
		CacheCollection:     &stats.AddressCache,
		ReviewCollection:    &stats.AddressReview,
		AliasCollection:     &stats.LearnedAliases,
	} {
		n, err := as.db.Collection(name).CountDocuments(ctx, bson.M{})
		if err != nil {
			return nil, err
		}
		*into = n
	}
	return stats, nil
}

// ExportData dumps a collection as JSON. The taxonomy is served from memory
// when no database is configured.
func (as *AdminService) ExportData(ctx context.Context, dataType string, limit int) ([]byte, error) {
	if dataType == AdminUnitCollection && as.db == nil {
		records := as.engine.Taxonomy().Records()
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		return json.MarshalIndent(records, "", "  ")
	}
	if as.db == nil {
		return nil, errors.New("no database configured")
	}
	switch dataType {
	case AdminUnitCollection, CacheCollection, AliasCollection, ReviewCollection:
	default:
		return nil, fmt.Errorf("unsupported data type %q", dataType)
	}

	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := as.db.Collection(dataType).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", dataType, err)
	}
	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode %s: %w", dataType, err)
	}
	return json.MarshalIndent(results, "", "  ")
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
