package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "addrnorm:"

// RedisCacheService stores records as JSON strings. Entries never expire
// unless a TTL is set.
type RedisCacheService struct {
	client  *redis.Client
	logger  *zap.Logger
	prefix  string
	ttl     time.Duration
	counter hitCounter
}

// NewRedisCacheService connects to redisURL and pings it.
func NewRedisCacheService(redisURL string, logger *zap.Logger) (*RedisCacheService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisCacheServiceFromClient(client, DefaultRedisPrefix, logger), nil
}

// NewRedisCacheServiceFromClient wraps an existing client.
func NewRedisCacheServiceFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisCacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCacheService{client: client, logger: logger, prefix: prefix}
}

func (rcs *RedisCacheService) Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error) {
	cacheKey := rcs.prefix + key

	val, err := rcs.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		rcs.counter.miss()
		return nil, false, nil
	}
	if err != nil {
		rcs.logger.Error("Redis get failed", zap.Error(err), zap.String("key", cacheKey))
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var result models.NormalizedAddress
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, false, fmt.Errorf("decode cached record: %w", err)
	}

	rcs.counter.hit()
	rcs.logger.Debug("Redis cache hit", zap.String("key", key))
	return &result, true, nil
}

func (rcs *RedisCacheService) Set(ctx context.Context, key string, value *models.NormalizedAddress) error {
	cacheKey := rcs.prefix + key

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := rcs.client.Set(ctx, cacheKey, data, rcs.ttl).Err(); err != nil {
		rcs.logger.Error("Redis set failed", zap.Error(err), zap.String("key", cacheKey))
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (rcs *RedisCacheService) Delete(ctx context.Context, key string) error {
	if err := rcs.client.Del(ctx, rcs.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// keys lists every cache key under the prefix.
func (rcs *RedisCacheService) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := rcs.client.Scan(ctx, 0, rcs.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (rcs *RedisCacheService) Clear(ctx context.Context) error {
	keys, err := rcs.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := rcs.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	rcs.counter.reset()
	rcs.logger.Info("Cleared Redis cache", zap.Int("keys_deleted", len(keys)))
	return nil
}

func (rcs *RedisCacheService) InvalidateByTaxonomyVersion(ctx context.Context, version string) (int64, error) {
	keys, err := rcs.keys(ctx)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, k := range keys {
		val, err := rcs.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("redis get: %w", err)
		}
		var na models.NormalizedAddress
		if err := json.Unmarshal(val, &na); err != nil || stale(&na, version) {
			if err := rcs.client.Del(ctx, k).Err(); err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted++
		}
	}
	rcs.logger.Info("Invalidated Redis cache",
		zap.String("taxonomy_version", version),
		zap.Int64("deleted_count", deleted))
	return deleted, nil
}

func (rcs *RedisCacheService) GetStats(ctx context.Context) (*CacheStats, error) {
	keys, err := rcs.keys(ctx)
	if err != nil {
		return nil, err
	}
	return rcs.counter.stats("redis", int64(len(keys))), nil
}

func (rcs *RedisCacheService) Exists(ctx context.Context, key string) (bool, error) {
	n, err := rcs.client.Exists(ctx, rcs.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (rcs *RedisCacheService) Close() error {
	return rcs.client.Close()
}

// SetTTL sets the expiry of future writes; zero means none.
func (rcs *RedisCacheService) SetTTL(ttl time.Duration) {
	rcs.ttl = ttl
}

// GetClient exposes the client, for the queue that shares it.
func (rcs *RedisCacheService) GetClient() *redis.Client {
	return rcs.client
}
