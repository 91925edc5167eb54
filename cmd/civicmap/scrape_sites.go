package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/civicmap/internal/fetch"
	"github.com/jonathan/civicmap/internal/observability"
	"github.com/jonathan/civicmap/internal/scrape"
)

var (
	scrapeBaseURL        string
	scrapeOut            string
	scrapeInterval       time.Duration
	scrapeBrowser        bool
	scrapeBrowserTimeout time.Duration
)

var scrapeSitesCmd = &cobra.Command{
	Use:   "scrape-sites",
	Short: "Collect Democratic campaign websites from politics1.com",
	Long: `Walk the House and Senate index pages of politics1.com, visit each linked
state page and record every Democratic candidate with a website. Results are
written as {"house": [...], "senate": [...]} JSON.`,
	RunE: runScrapeSites,
}

func init() {
	scrapeSitesCmd.Flags().StringVar(&scrapeBaseURL, "base-url", scrape.DefaultBaseURL, "Site root holding the index pages")
	scrapeSitesCmd.Flags().StringVarP(&scrapeOut, "out", "o", "dem_campaign_sites.json", "Output JSON file")
	scrapeSitesCmd.Flags().DurationVar(&scrapeInterval, "interval", scrape.DefaultInterval, "Delay between state pages")
	scrapeSitesCmd.Flags().BoolVar(&scrapeBrowser, "browser", false, "Render pages in headless Chrome")
	scrapeSitesCmd.Flags().DurationVar(&scrapeBrowserTimeout, "browser-timeout", 30*time.Second, "Per-page timeout when rendering in Chrome")
	rootCmd.AddCommand(scrapeSitesCmd)
}

func runScrapeSites(cmd *cobra.Command, _ []string) error {
	_, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := []scrape.Option{scrape.WithInterval(scrapeInterval), scrape.WithLogger(log)}
	if scrapeBrowser {
		chrome := fetch.NewChromeRenderer(fetch.WithPageTimeout(scrapeBrowserTimeout), fetch.WithChromeLogger(log))
		opts = append(opts, scrape.WithRenderer(chrome))
	}

	scraper, err := scrape.New(scrapeBaseURL, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = scraper.Close() }()

	res, err := scraper.Run(cmd.Context())
	if err != nil {
		return err
	}
	if err := scrape.WriteResult(scrapeOut, res); err != nil {
		return err
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintScrapeResult(scrapeOut, res)
	return nil
}
