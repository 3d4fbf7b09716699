package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// CacheCollection holds the persisted cache entries.
const CacheCollection = "address_cache"

// MongoCacheService is a persistent cache: MongoDB behind an in-process LRU.
type MongoCacheService struct {
	collection *mongo.Collection
	l1Cache    *lru.Cache[string, *models.NormalizedAddress]
	logger     *zap.Logger
	counter    hitCounter
	l1Counter  hitCounter
}

// NewMongoCacheService opens the cache collection and ensures its indexes.
func NewMongoCacheService(db *mongo.Database, l1Size int, logger *zap.Logger) (*MongoCacheService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l1Size <= 0 {
		l1Size = 10000
	}
	l1Cache, err := lru.New[string, *models.NormalizedAddress](l1Size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	collection := db.Collection(CacheCollection)
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "fingerprint", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{bson.E{Key: "taxonomy_version", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "last_accessed", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "manually_verified", Value: 1}}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		logger.Warn("Could not create address_cache indexes", zap.Error(err))
	}

	return &MongoCacheService{
		collection: collection,
		l1Cache:    l1Cache,
		logger:     logger,
	}, nil
}

// Get checks the LRU first, then MongoDB.
func (mcs *MongoCacheService) Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error) {
	if result, found := mcs.l1Cache.Get(key); found {
		mcs.l1Counter.hit()
		mcs.counter.hit()
		return result.Clone(), true, nil
	}
	mcs.l1Counter.miss()

	fingerprint := models.Fingerprint(key)
	var entry models.CacheEntry
	err := mcs.collection.FindOne(ctx, bson.M{"fingerprint": fingerprint}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			mcs.counter.miss()
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query cache: %w", err)
	}
	mcs.counter.hit()
	mcs.touch(ctx, fingerprint)

	mcs.l1Cache.Add(key, entry.Value.Clone())
	mcs.logger.Debug("MongoDB cache hit", zap.String("key", key), zap.String("fingerprint", fingerprint))
	return &entry.Value, true, nil
}

// Set writes through to MongoDB, keeping the original creation time.
func (mcs *MongoCacheService) Set(ctx context.Context, key string, value *models.NormalizedAddress) error {
	entry := models.NewCacheEntry(key, *value)
	filter := bson.M{"fingerprint": entry.Fingerprint}
	update := bson.M{
		"$set": bson.M{
			"key":               entry.Key,
			"value":             entry.Value,
			"taxonomy_version":  entry.TaxonomyVersion,
			"manually_verified": entry.ManuallyVerified,
			"updated_at":        entry.UpdatedAt,
			"last_accessed":     entry.LastAccessed,
		},
		"$setOnInsert": bson.M{"created_at": entry.CreatedAt},
		"$inc":         bson.M{"access_count": 1},
	}
	if _, err := mcs.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		mcs.logger.Error("MongoDB cache write failed", zap.Error(err), zap.String("fingerprint", entry.Fingerprint))
		return fmt.Errorf("write cache: %w", err)
	}
	mcs.l1Cache.Add(key, value.Clone())
	return nil
}

func (mcs *MongoCacheService) Delete(ctx context.Context, key string) error {
	mcs.l1Cache.Remove(key)
	if _, err := mcs.collection.DeleteOne(ctx, bson.M{"fingerprint": models.Fingerprint(key)}); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (mcs *MongoCacheService) Clear(ctx context.Context) error {
	mcs.l1Cache.Purge()
	if _, err := mcs.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	mcs.counter.reset()
	mcs.l1Counter.reset()
	return nil
}

func (mcs *MongoCacheService) InvalidateByTaxonomyVersion(ctx context.Context, version string) (int64, error) {
	mcs.l1Cache.Purge()

	filter := bson.M{
		"taxonomy_version":  bson.M{"$ne": version},
		"manually_verified": bson.M{"$ne": true},
	}
	result, err := mcs.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("invalidate cache: %w", err)
	}
	mcs.logger.Info("Invalidated MongoDB cache",
		zap.String("taxonomy_version", version),
		zap.Int64("deleted_count", result.DeletedCount))
	return result.DeletedCount, nil
}

func (mcs *MongoCacheService) GetStats(ctx context.Context) (*CacheStats, error) {
	count, err := mcs.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("count cache entries: %w", err)
	}
	mcs.logger.Debug("Cache stats",
		zap.Int("l1_size", mcs.l1Cache.Len()),
		zap.Int64("l1_hits", mcs.l1Counter.hits.Load()),
		zap.Int64("mongo_count", count))
	return mcs.counter.stats("mongo", count), nil
}

func (mcs *MongoCacheService) Exists(ctx context.Context, key string) (bool, error) {
	if mcs.l1Cache.Contains(key) {
		return true, nil
	}
	count, err := mcs.collection.CountDocuments(ctx, bson.M{"fingerprint": models.Fingerprint(key)})
	if err != nil {
		return false, fmt.Errorf("check cache entry: %w", err)
	}
	return count > 0, nil
}

// Close is a no-op; the client belongs to the caller.
func (mcs *MongoCacheService) Close() error {
	return nil
}

func (mcs *MongoCacheService) touch(ctx context.Context, fingerprint string) {
	update := bson.M{
		"$set": bson.M{"last_accessed": time.Now().UTC()},
		"$inc": bson.M{"access_count": 1},
	}
	if _, err := mcs.collection.UpdateOne(ctx, bson.M{"fingerprint": fingerprint}, update); err != nil {
		mcs.logger.Warn("Could not update access stats", zap.Error(err))
	}
}

// WarmUp loads the most accessed entries into the LRU.
func (mcs *MongoCacheService) WarmUp(ctx context.Context, limit int) (int, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "access_count", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := mcs.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return 0, fmt.Errorf("warm up cache: %w", err)
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		var entry models.CacheEntry
		if err := cursor.Decode(&entry); err != nil {
			mcs.logger.Warn("Skipping undecodable cache entry", zap.Error(err))
			continue
		}
		mcs.l1Cache.Add(entry.Key, entry.Value.Clone())
		count++
	}
	if err := cursor.Err(); err != nil {
		return count, fmt.Errorf("warm up cache: %w", err)
	}
	mcs.logger.Info("Cache warm up done", zap.Int("loaded_items", count), zap.Int("l1_size", mcs.l1Cache.Len()))
	return count, nil
}
