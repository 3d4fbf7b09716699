package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// Collections used by the review queue.
const (
	ReviewCollection = "address_review"
	AliasCollection  = "learned_aliases"
)

// ErrReviewNotFound is returned for unknown review ids.
var ErrReviewNotFound = errors.New("review not found")

// IReviewStore persists review records.
type IReviewStore interface {
	// Save inserts or replaces the review with the same ID.
	Save(ctx context.Context, r *models.AddressReview) error
	Get(ctx context.Context, id string) (*models.AddressReview, error)
	// PendingByKey returns the pending review for a cache key, or nil.
	PendingByKey(ctx context.Context, key string) (*models.AddressReview, error)
	// List returns reviews with status, oldest first; an empty status lists all.
	List(ctx context.Context, status string, limit int) ([]*models.AddressReview, error)
	Count(ctx context.Context, status string) (int64, error)
}

// IAliasStore persists learned aliases.
type IAliasStore interface {
	// Add stores an alias or bumps the usage of an existing one.
	Add(ctx context.Context, a *models.LearnedAlias) error
	List(ctx context.Context) ([]models.LearnedAlias, error)
}

// MemoryReviewStore keeps reviews in process.
type MemoryReviewStore struct {
	mu      sync.RWMutex
	reviews map[string]*models.AddressReview
}

func NewMemoryReviewStore() *MemoryReviewStore {
	return &MemoryReviewStore{reviews: make(map[string]*models.AddressReview)}
}

func copyReview(r *models.AddressReview) *models.AddressReview {
	out := *r
	out.AutoResult = *r.AutoResult.Clone()
	out.Candidates = append([]models.ReviewCandidate(nil), r.Candidates...)
	if r.ManualResult != nil {
		out.ManualResult = r.ManualResult.Clone()
	}
	return &out
}

func (s *MemoryReviewStore) Save(ctx context.Context, r *models.AddressReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.ID] = copyReview(r)
	return nil
}

func (s *MemoryReviewStore) Get(ctx context.Context, id string) (*models.AddressReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	return copyReview(r), nil
}

func (s *MemoryReviewStore) PendingByKey(ctx context.Context, key string) (*models.AddressReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reviews {
		if r.Key == key && r.IsPending() {
			return copyReview(r), nil
		}
	}
	return nil, nil
}

func (s *MemoryReviewStore) List(ctx context.Context, status string, limit int) ([]*models.AddressReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AddressReview
	for _, r := range s.reviews {
		if status == "" || r.Status == status {
			out = append(out, copyReview(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryReviewStore) Count(ctx context.Context, status string) (int64, error) {
	list, _ := s.List(ctx, status, 0)
	return int64(len(list)), nil
}

// MongoReviewStore keeps reviews in MongoDB.
type MongoReviewStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoReviewStore(db *mongo.Database, logger *zap.Logger) *MongoReviewStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	collection := db.Collection(ReviewCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "key", Value: 1}, bson.E{Key: "status", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		logger.Warn("Could not create address_review indexes", zap.Error(err))
	}
	return &MongoReviewStore{collection: collection, logger: logger}
}

func (s *MongoReviewStore) Save(ctx context.Context, r *models.AddressReview) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

func (s *MongoReviewStore) findOne(ctx context.Context, filter bson.M) (*models.AddressReview, error) {
	var r models.AddressReview
	if err := s.collection.FindOne(ctx, filter).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("find review: %w", err)
	}
	return &r, nil
}

func (s *MongoReviewStore) Get(ctx context.Context, id string) (*models.AddressReview, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoReviewStore) PendingByKey(ctx context.Context, key string) (*models.AddressReview, error) {
	r, err := s.findOne(ctx, bson.M{"key": key, "status": models.ReviewStatusPending})
	if errors.Is(err, ErrReviewNotFound) {
		return nil, nil
	}
	return r, err
}

func statusFilter(status string) bson.M {
	if status == "" {
		return bson.M{}
	}
	return bson.M{"status": status}
}

func (s *MongoReviewStore) List(ctx context.Context, status string, limit int) ([]*models.AddressReview, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: 1}, bson.E{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, statusFilter(status), opts)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	var out []*models.AddressReview
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	return out, nil
}

func (s *MongoReviewStore) Count(ctx context.Context, status string) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, statusFilter(status))
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

// MemoryAliasStore keeps aliases in process.
type MemoryAliasStore struct {
	mu      sync.Mutex
	aliases []models.LearnedAlias
}

func NewMemoryAliasStore() *MemoryAliasStore {
	return &MemoryAliasStore{}
}

func (s *MemoryAliasStore) Add(ctx context.Context, a *models.LearnedAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.aliases {
		if s.aliases[i].Fragment == a.Fragment && s.aliases[i].AdminID == a.AdminID {
			s.aliases[i].UpdateUsage()
			return nil
		}
	}
	s.aliases = append(s.aliases, *a)
	return nil
}

func (s *MemoryAliasStore) List(ctx context.Context) ([]models.LearnedAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LearnedAlias(nil), s.aliases...), nil
}

// MongoAliasStore keeps aliases in MongoDB, one document per fragment and node.
type MongoAliasStore struct {
	collection *mongo.Collection
}

func NewMongoAliasStore(db *mongo.Database) *MongoAliasStore {
	return &MongoAliasStore{collection: db.Collection(AliasCollection)}
}

func (s *MongoAliasStore) Add(ctx context.Context, a *models.LearnedAlias) error {
	filter := bson.M{"fragment": a.Fragment, "admin_id": a.AdminID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"level":      a.Level,
			"source":     a.Source,
			"created_at": a.CreatedAt,
		},
		"$set": bson.M{"last_used": a.LastUsed},
		"$inc": bson.M{"usage_count": 1},
	}
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("save alias: %w", err)
	}
	return nil
}

func (s *MongoAliasStore) List(ctx context.Context) ([]models.LearnedAlias, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	var out []models.LearnedAlias
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	return out, nil
}
