package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/address-normalizer/app/providers"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspects and maintains the address cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Prints hit rate and size",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), nil, func(app *providers.App) error {
					stats, err := app.Cache.GetStats(cmd.Context())
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Removes every cached record, manual corrections included",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), nil, func(app *providers.App) error {
					if err := app.Cache.Clear(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
					return nil
				})
			},
		},
		newCacheInvalidateCmd(),
		newCacheWarmCmd(),
	)
	return cmd
}

func newCacheInvalidateCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drops records resolved against another taxonomy version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), nil, func(app *providers.App) error {
				v := version
				if v == "" {
					v = app.Admin.TaxonomyVersion()
				}
				n, err := app.Cache.InvalidateByTaxonomyVersion(cmd.Context(), v)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d records not matching taxonomy %s\n", n, v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&version, "taxonomy-version", "", "version to keep (the loaded taxonomy by default)")
	return cmd
}

func newCacheWarmCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Preloads the in-process front of the mongo cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), nil, func(app *providers.App) error {
				if app.Warmer() == nil {
					return fmt.Errorf("cache backend %q cannot be warmed", app.Config.Cache.Backend)
				}
				n, err := app.WarmCache(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "warmed %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5000, "most recently used records to load")
	return cmd
}

func init() {
	rootCmd.AddCommand(newCacheCmd())
}
