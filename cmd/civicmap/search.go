package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/observability"
)

var (
	searchLimit    int
	searchState    string
	searchDistrict int
	searchParty    string
	searchTotals   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the candidate roster",
	Long: `Search the enriched roster by name, state or "STATE DISTRICT", the same
way the map's search box does. With --state the local race for that state and
district is listed instead. --totals prints contribution totals per result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum results for a query")
	searchCmd.Flags().StringVar(&searchState, "state", "", "List candidates running in this state")
	searchCmd.Flags().IntVar(&searchDistrict, "district", 0, "House district for --state")
	searchCmd.Flags().StringVar(&searchParty, "party", candidates.DefaultParty, "Party for --state: democrat, republican or other")
	searchCmd.Flags().BoolVar(&searchTotals, "totals", false, "Print contribution totals for each result")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	roster, err := candidates.NewRoster(cfg.DataDir, log)
	if err != nil {
		return err
	}

	var (
		title   string
		results []candidates.Candidate
	)
	switch {
	case searchState != "":
		state := strings.ToUpper(strings.TrimSpace(searchState))
		if _, ok := candidates.StateName(state); !ok {
			return fmt.Errorf("unknown state %q", searchState)
		}
		title = fmt.Sprintf("CANDIDATES IN %s", state)
		results = candidates.Local(roster.All(), searchParty, state, searchDistrict)
	case len(args) == 1:
		title = fmt.Sprintf("SEARCH: %s", args[0])
		results = candidates.Search(roster.All(), args[0], searchLimit)
	default:
		return fmt.Errorf("a query or --state is required")
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintCandidates(title, results)
	if !searchTotals {
		return nil
	}

	store, err := contributions.NewStore(cfg.DataDir, contributions.WithStoreLogger(log))
	if err != nil {
		return err
	}
	for _, c := range results {
		if c.CandidateID == "" || !store.Has(c.CandidateID) {
			continue
		}
		summary, err := store.Summarize(c.CandidateID)
		if err != nil {
			return err
		}
		printer.PrintSummary(summary)
	}
	return nil
}
