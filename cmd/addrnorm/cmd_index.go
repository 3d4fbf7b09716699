package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/config"
	"github.com/address-normalizer/app/providers"
	"github.com/address-normalizer/internal/search"
)

func newSeedIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-index",
		Short: "Rebuilds the Meilisearch taxonomy index used for reviewer suggestions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			noIndex := func(cfg *config.Config) { cfg.Meili.Enabled = false }
			return withApp(cmd.Context(), noIndex, func(app *providers.App) error {
				m := app.Config.Meili
				idx, err := search.NewTaxonomyIndex(search.SearchConfig{
					Host:      m.URL,
					APIKey:    m.MasterKey,
					IndexName: m.Index,
					Timeout:   m.Timeout,
				}, app.Logger)
				if err != nil {
					return err
				}
				if err := idx.Configure(); err != nil {
					return fmt.Errorf("configure index: %w", err)
				}
				tx := app.Engine.Taxonomy()
				n, err := idx.Seed(tx.Records())
				if err != nil {
					return fmt.Errorf("seed index: %w", err)
				}
				app.Logger.Info("Taxonomy index seeded",
					zap.String("index", m.Index),
					zap.String("taxonomy_version", tx.Version()),
					zap.Int("documents", n))
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d nodes of taxonomy %s\n", n, tx.Version())
				return nil
			})
		},
	}
}

func init() {
	rootCmd.AddCommand(newSeedIndexCmd())
}
