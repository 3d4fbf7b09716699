package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/pipeline"
)

// ResultSink receives the output of a finished batch task.
type ResultSink func(ctx context.Context, batchID string, results []*models.NormalizedAddress, sum pipeline.Summary) error

// Warmer preloads a cache front.
type Warmer interface {
	WarmUp(ctx context.Context, limit int) (int, error)
}

// WorkerConfig sizes the asynq server.
type WorkerConfig struct {
	RedisURL    string
	Queue       string
	Concurrency int
}

// Worker runs queued batches through the pipeline.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *pipeline.Runner
	sink   ResultSink
	warmer Warmer
	logger *zap.Logger
}

// NewWorker wires handlers. sink and warmer may be nil.
func NewWorker(cfg WorkerConfig, runner *pipeline.Runner, sink ResultSink, warmer Warmer, logger *zap.Logger) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redisClientOpt(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      logger.Sugar(),
	})
	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		runner: runner,
		sink:   sink,
		warmer: warmer,
		logger: logger,
	}
	w.mux.HandleFunc(TaskNormalizeBatch, w.handleNormalizeBatch)
	w.mux.HandleFunc(TaskWarmCache, w.handleWarmCache)
	return w, nil
}

// Run serves until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()
	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("queue worker stopped: %w", err)
	}
	return nil
}

func (w *Worker) handleNormalizeBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNormalizeBatchPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	results, sum := w.runner.RunBatch(ctx, payload.Records, pipeline.BatchOptions{})
	if sum.Cancelled {
		// Completed records are cached; a retry only resolves the rest.
		return fmt.Errorf("batch %s cancelled: %w", payload.BatchID, ctx.Err())
	}
	w.logger.Info("Queued batch normalized",
		zap.String("batch_id", payload.BatchID),
		zap.Int("records", len(results)),
		zap.Int("cache_hits", sum.CacheHits))
	if w.sink == nil {
		return nil
	}
	return w.sink(ctx, payload.BatchID, results, sum)
}

func (w *Worker) handleWarmCache(ctx context.Context, task *asynq.Task) error {
	if w.warmer == nil {
		return nil
	}
	payload, err := ParseWarmCachePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	n, err := w.warmer.WarmUp(ctx, payload.Limit)
	if err != nil {
		return err
	}
	w.logger.Info("Cache warmed", zap.Int("entries", n))
	return nil
}
