package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/app/providers"
	"github.com/address-normalizer/internal/pipeline"
	"github.com/address-normalizer/internal/queue"
	"github.com/address-normalizer/internal/tabular"
)

func newServeQueueCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "serve-queue",
		Short: "Processes queued batches until interrupted",
		Long: `
serve-queue runs an asynq worker on the configured Redis queue. Each finished
batch is written to <out>/<batch id>.ndjson.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, nil, func(app *providers.App) error {
				w, err := queue.NewWorker(queue.WorkerConfig{
					RedisURL:    app.Config.Redis.URL,
					Queue:       app.Config.Queue.Name,
					Concurrency: app.Config.Queue.Concurrency,
				}, app.Runner, fileSink(outDir, app.Logger), app.Warmer(), app.Logger)
				if err != nil {
					return err
				}
				app.Logger.Info("Queue worker started",
					zap.String("queue", app.Config.Queue.Name),
					zap.Int("concurrency", app.Config.Queue.Concurrency))
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "results", "directory for batch results")
	return cmd
}

// fileSink writes every finished batch as NDJSON under dir.
func fileSink(dir string, logger *zap.Logger) queue.ResultSink {
	return func(_ context.Context, batchID string, results []*models.NormalizedAddress, sum pipeline.Summary) error {
		path := filepath.Join(dir, filepath.Base(batchID)+".ndjson")
		if err := tabular.WriteFile(path, results); err != nil {
			return fmt.Errorf("batch %s: %w", batchID, err)
		}
		sum.Log(logger.With(zap.String("batch_id", batchID), zap.String("output", path)))
		return nil
	}
}

func newEnqueueCmd() *cobra.Command {
	var column, sheet, batchID string
	cmd := &cobra.Command{
		Use:   "enqueue <input>",
		Short: "Queues the addresses of a file for serve-queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records, err := tabular.ReadFile(args[0], tabular.ReadOptions{Column: column, Sheet: sheet})
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			if len(records) == 0 {
				return fmt.Errorf("no records in %s", args[0])
			}
			c, err := queue.NewClient(cfg.Redis.URL, cfg.Queue.Name)
			if err != nil {
				return err
			}
			defer c.Close()

			if batchID == "" {
				batchID = uuid.NewString()
			}
			taskID, err := c.EnqueueBatch(cmd.Context(), batchID, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d records as batch %s (task %s)\n", len(records), batchID, taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "input column holding the address")
	cmd.Flags().StringVar(&sheet, "sheet", "", "XLSX sheet to read")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch id (random by default)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newServeQueueCmd(), newEnqueueCmd())
}
