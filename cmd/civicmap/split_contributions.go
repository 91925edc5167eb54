package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/observability"
)

var splitOutDir string

var splitContributionsCmd = &cobra.Command{
	Use:   "split-contributions",
	Short: "Split the contribution CSVs into House and Senate files",
	Long: `Write *_house.csv and *_senate.csv copies of both contribution CSVs,
assigning each row by its candidate's office in the enriched roster.`,
	RunE: runSplitContributions,
}

func init() {
	splitContributionsCmd.Flags().StringVarP(&splitOutDir, "out-dir", "o", "", "Output directory (default the data directory)")
	rootCmd.AddCommand(splitContributionsCmd)
}

func runSplitContributions(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	roster, err := candidates.NewRoster(cfg.DataDir, log)
	if err != nil {
		return err
	}
	offices := roster.Offices()
	if len(offices) == 0 {
		return fmt.Errorf("no candidate offices in %s", cfg.DataDir)
	}

	store, err := contributions.NewStore(cfg.DataDir, contributions.WithStoreLogger(log))
	if err != nil {
		return err
	}

	outDir := orDefault(splitOutDir, cfg.DataDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	counts, err := store.SplitByOffice(outDir, offices)
	if err != nil {
		return err
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintSplitCounts(outDir, counts)
	return nil
}
