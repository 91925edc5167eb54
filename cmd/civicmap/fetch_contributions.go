package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/fec"
	"github.com/jonathan/civicmap/internal/observability"
)

// bulkFetchInterval spaces candidates during a bulk fetch.
const bulkFetchInterval = 200 * time.Millisecond

var (
	fetchCandidateID   string
	fetchCandidateName string
	fetchCommitteeID   string
	fetchInterval      time.Duration
)

var fetchContributionsCmd = &cobra.Command{
	Use:   "fetch-contributions",
	Short: "Download itemized contributions from the FEC",
	Long: `Fetch the itemized receipts of each candidate's principal committee and
append them to the individual and PAC contribution CSVs.

With --candidate-id only that candidate is fetched. Otherwise every candidate in
the enriched roster is fetched in turn; candidates already on file are skipped.`,
	RunE: runFetchContributions,
}

func init() {
	fetchContributionsCmd.Flags().StringVar(&fetchCandidateID, "candidate-id", "", "Fetch a single candidate")
	fetchContributionsCmd.Flags().StringVar(&fetchCandidateName, "candidate-name", "", "Name written with a single candidate's rows")
	fetchContributionsCmd.Flags().StringVar(&fetchCommitteeID, "committee-id", "", "Principal committee, skipping the lookup")
	fetchContributionsCmd.Flags().DurationVar(&fetchInterval, "interval", bulkFetchInterval, "Delay between candidates in a bulk fetch")
	rootCmd.AddCommand(fetchContributionsCmd)
}

func runFetchContributions(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client := fec.NewClient(cfg.FECAPIKey, fec.WithBaseURL(cfg.FECBaseURL), fec.WithLogger(log))
	if !client.HasAPIKey() {
		return fmt.Errorf("FEC_API_KEY environment variable is required")
	}

	ctx := cmd.Context()
	database, err := connectDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	var storeOpts []contributions.StoreOption
	if database != nil {
		defer database.Close()
		storeOpts = append(storeOpts, contributions.WithMirror(database))
	}

	store, closeStore, err := openContributionStore(ctx, cfg, log, storeOpts...)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline := contributions.NewPipeline(client, store, cfg.Cycle, log)
	if database != nil {
		pipeline.RecordRunsTo(database)
	}
	printer := observability.NewPrinter(cmd.OutOrStdout())

	if id := strings.TrimSpace(fetchCandidateID); id != "" {
		res, err := pipeline.Fetch(ctx, contributions.Request{
			CandidateID:   id,
			CandidateName: fetchCandidateName,
			CommitteeID:   fetchCommitteeID,
		})
		if err != nil {
			return err
		}
		printer.PrintFetchResult(id, res)
		return nil
	}

	roster, err := candidates.NewRoster(cfg.DataDir, log)
	if err != nil {
		return err
	}
	if roster.Len() == 0 {
		return fmt.Errorf("no candidates in %s; run merge-websites or provide --candidate-id", cfg.DataDir)
	}

	tally, err := fetchAll(ctx, pipeline, roster.All(), rate.NewLimiter(rate.Every(fetchInterval), 1), log)
	printer.PrintFetchTally(tally)
	return err
}

// fetchAll runs the pipeline for each candidate with an id. A failed
// candidate is logged and counted; cancellation stops the run.
func fetchAll(ctx context.Context, pipeline *contributions.Pipeline, list []candidates.Candidate, limiter *rate.Limiter, log *zap.Logger) (observability.FetchTally, error) {
	var tally observability.FetchTally

	for _, c := range list {
		if c.CandidateID == "" {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return tally, err
		}

		res, err := pipeline.Fetch(ctx, contributions.Request{
			CandidateID:   c.CandidateID,
			CandidateName: c.Name,
			CommitteeID:   c.CommitteeID,
		})
		if err != nil {
			if ctx.Err() != nil {
				return tally, ctx.Err()
			}
			if errors.Is(err, contributions.ErrInProgress) {
				tally.Skipped++
				continue
			}
			log.Warn("contribution fetch failed",
				zap.String("candidate_id", c.CandidateID),
				zap.Error(err))
			tally.Failed++
			continue
		}

		switch res.State {
		case contributions.StatePersisted:
			tally.Persisted++
			tally.Records += res.Total
		case contributions.StateAlreadyHaveData:
			tally.Skipped++
		default:
			tally.Empty++
		}
		log.Info("fetched contributions",
			zap.String("candidate_id", c.CandidateID),
			zap.String("state", string(res.State)),
			zap.Int("total", res.Total))
	}
	return tally, nil
}
