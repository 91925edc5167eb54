package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/observability"
)

var (
	mergeEnriched string
	mergeWebsites string
	mergeOut      string
)

var mergeWebsitesCmd = &cobra.Command{
	Use:   "merge-websites",
	Short: "Attach campaign websites to the enriched candidate roster",
	Long: `Join the enriched candidate CSV with a websites CSV on normalized name
("LAST, FIRST" becomes "FIRST LAST") and write the roster the server reads.
Paths default to files in the data directory.`,
	RunE: runMergeWebsites,
}

func init() {
	mergeWebsitesCmd.Flags().StringVar(&mergeEnriched, "enriched", "", "Enriched roster CSV (default <data_dir>/"+candidates.EnrichedFile+")")
	mergeWebsitesCmd.Flags().StringVar(&mergeWebsites, "websites", "", "Websites CSV (default <data_dir>/"+candidates.WebsitesFile+")")
	mergeWebsitesCmd.Flags().StringVarP(&mergeOut, "out", "o", "", "Output CSV (default <data_dir>/"+candidates.WithWebsitesFile+")")
	rootCmd.AddCommand(mergeWebsitesCmd)
}

func runMergeWebsites(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	enriched := orDefault(mergeEnriched, filepath.Join(cfg.DataDir, candidates.EnrichedFile))
	websites := orDefault(mergeWebsites, filepath.Join(cfg.DataDir, candidates.WebsitesFile))
	out := orDefault(mergeOut, filepath.Join(cfg.DataDir, candidates.WithWebsitesFile))

	stats, err := candidates.MergeWebsites(enriched, websites, out)
	if err != nil {
		return err
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintMergeStats(out, stats)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
