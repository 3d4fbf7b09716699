package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/providers"
	"github.com/address-normalizer/internal/pipeline"
	"github.com/address-normalizer/internal/tabular"
)

type runOptions struct {
	Column  string
	Sheet   string
	Workers int
	Offline bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <input> <output>",
		Short: "Normalizes every address of a CSV, XLSX or NDJSON file",
		Long: `
run reads raw addresses from <input>, resolves them through the cache and the
fusion engine and writes one row per input record to <output>. The formats
follow the file extensions. Interrupting the run writes what finished, with
the rest flagged as cancelled.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args[0], args[1], opts)
		},
	}
	cmd.Flags().StringVar(&opts.Column, "column", "", "input column holding the address (address, raw or text by default)")
	cmd.Flags().StringVar(&opts.Sheet, "sheet", "", "XLSX sheet to read (the first by default)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "concurrent resolutions (pipeline.workers by default)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "disable translation and geocoders")
	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func runBatch(cmd *cobra.Command, input, output string, opts runOptions) error {
	if _, err := tabular.FormatFromPath(output); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	records, err := tabular.ReadFile(input, tabular.ReadOptions{Column: opts.Column, Sheet: opts.Sheet})
	if err != nil {
		return fmt.Errorf("reading %s: %w", input, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mutate := func(cfg *config.Config) {
		if opts.Workers > 0 {
			cfg.Pipeline.Workers = opts.Workers
		}
		if opts.Offline {
			cfg.Translator.Enabled = false
			cfg.Geocoders.Order = nil
			cfg.Geocoders.Libpostal.Mode = "off"
		}
	}
	return withApp(ctx, mutate, func(app *providers.App) error {
		var bar *progressbar.ProgressBar
		batch := pipeline.BatchOptions{}
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(len(records),
				progressbar.OptionSetDescription("Normalizing "+input),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			batch.Progress = func(done, total int) {
				bar.ChangeMax(total)
				_ = bar.Set(done)
			}
		}

		results, sum := app.Runner.RunBatch(ctx, records, batch)
		if bar != nil {
			_ = bar.Finish()
		}

		if err := tabular.WriteFile(output, results); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		app.Logger.Info("Results written", zap.String("output", output), zap.Int("records", len(results)))
		fmt.Fprint(cmd.OutOrStdout(), sum.String())
		if sum.Cancelled {
			return fmt.Errorf("run interrupted: %w", ctx.Err())
		}
		return nil
	})
}
