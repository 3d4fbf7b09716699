package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/address-normalizer/app/models"
)

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "addrnorm"

// Client enqueues normalization work.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisURL, queue string) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &Client{client: asynq.NewClient(opt), queue: queue}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueBatch queues records under batchID. Failed tasks are retried by
// asynq up to three times.
func (c *Client) EnqueueBatch(ctx context.Context, batchID string, records []models.RawAddress) (string, error) {
	task, err := NewNormalizeBatchTask(NormalizeBatchPayload{BatchID: batchID, Records: records})
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(3),
		asynq.TaskID(batchID),
		asynq.Timeout(time.Hour))
	if err != nil {
		return "", fmt.Errorf("enqueue batch %s: %w", batchID, err)
	}
	return info.ID, nil
}

// EnqueueWarmUp schedules a cache warm-up at runAt.
func (c *Client) EnqueueWarmUp(ctx context.Context, limit int, runAt time.Time) error {
	task, err := NewWarmCacheTask(WarmCachePayload{Limit: limit})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessAt(runAt), asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
