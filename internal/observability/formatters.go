// Package observability provides formatted output for the CLI commands.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/scrape"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer writes boxed, human-readable summaries.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if r := []rune(line); len(r) > boxWidth-4 {
			line = string(r[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCandidates lists candidates as "name (state-district) party".
func (p *Printer) PrintCandidates(title string, list []candidates.Candidate) {
	var sb strings.Builder
	if len(list) == 0 {
		sb.WriteString("No candidates found")
		p.printBox(title, sb.String())
		return
	}

	sb.WriteString(fmt.Sprintf("Candidates: %d\n\n", len(list)))
	count := min(len(list), maxItemsToShow)
	for i := 0; i < count; i++ {
		c := list[i]
		sb.WriteString(fmt.Sprintf("%-28s %s %s\n", c.Name, seat(c), c.Party))
		if c.Website != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", c.Website))
		}
	}
	if len(list) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(list)-maxItemsToShow))
	}

	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

func seat(c candidates.Candidate) string {
	if c.District <= 0 {
		return c.State + "-SEN"
	}
	return fmt.Sprintf("%s-%02d", c.State, c.District)
}

// PrintFetchResult reports one candidate's contribution fetch.
func (p *Printer) PrintFetchResult(candidateID string, res contributions.Result) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Candidate:  %s\n", candidateID))
	sb.WriteString(fmt.Sprintf("Outcome:    %s\n", res.State))
	if res.State == contributions.StatePersisted {
		sb.WriteString(fmt.Sprintf("Individual: %d\n", res.Counts.Individuals))
		sb.WriteString(fmt.Sprintf("PAC:        %d\n", res.Counts.PACs))
		sb.WriteString(fmt.Sprintf("Total:      %d", res.Total))
	}
	p.printBox("CONTRIBUTION FETCH", strings.TrimSuffix(sb.String(), "\n"))
}

// FetchTally counts bulk fetch outcomes.
type FetchTally struct {
	Persisted int
	Skipped   int
	Empty     int
	Failed    int
	Records   int
}

// PrintFetchTally summarizes a bulk fetch run.
func (p *Printer) PrintFetchTally(t FetchTally) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Persisted:       %d\n", t.Persisted))
	sb.WriteString(fmt.Sprintf("Already present: %d\n", t.Skipped))
	sb.WriteString(fmt.Sprintf("Nothing found:   %d\n", t.Empty))
	sb.WriteString(fmt.Sprintf("Failed:          %d\n", t.Failed))
	sb.WriteString(fmt.Sprintf("Rows written:    %d", t.Records))
	p.printBox("BULK CONTRIBUTION FETCH", sb.String())
}

// PrintSummary shows individual and PAC totals.
func (p *Printer) PrintSummary(s contributions.Summary) {
	var sb strings.Builder
	if s.CandidateID != "" {
		label := s.CandidateID
		if s.CandidateName != "" {
			label = fmt.Sprintf("%s (%s)", s.CandidateName, s.CandidateID)
		}
		sb.WriteString(fmt.Sprintf("Candidate:  %s\n\n", label))
	}
	sb.WriteString(fmt.Sprintf("Individual: $%s (%d)\n", s.Individual.StringFixed(2), s.IndividualCount))
	sb.WriteString(fmt.Sprintf("PAC:        $%s (%d)\n", s.PAC.StringFixed(2), s.PACCount))
	sb.WriteString(fmt.Sprintf("Total:      $%s", s.Total().StringFixed(2)))
	p.printBox("CONTRIBUTION SUMMARY", sb.String())
}

// PrintSplitCounts reports rows written per office file.
func (p *Printer) PrintSplitCounts(outDir string, c contributions.SplitCounts) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Output: %s\n\n", outDir))
	sb.WriteString(fmt.Sprintf("House:  %d individual, %d PAC\n", c.House.Individuals, c.House.PACs))
	sb.WriteString(fmt.Sprintf("Senate: %d individual, %d PAC", c.Senate.Individuals, c.Senate.PACs))
	p.printBox("SPLIT BY OFFICE", sb.String())
}

// PrintMergeStats reports a website merge.
func (p *Printer) PrintMergeStats(outPath string, s candidates.MergeStats) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Output:   %s\n", outPath))
	sb.WriteString(fmt.Sprintf("Roster:   %d\n", s.Enriched))
	sb.WriteString(fmt.Sprintf("Matched:  %d\n", s.Matched))
	sb.WriteString(fmt.Sprintf("Written:  %d", s.Rows))
	p.printBox("WEBSITE MERGE", sb.String())
}

// PrintScrapeResult reports sites found per chamber.
func (p *Printer) PrintScrapeResult(outPath string, res scrape.Result) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Output: %s\n\n", outPath))
	sb.WriteString(fmt.Sprintf("House sites:  %d\n", len(res.House)))
	sb.WriteString(fmt.Sprintf("Senate sites: %d", len(res.Senate)))
	p.printBox("CAMPAIGN SITES", sb.String())
}
