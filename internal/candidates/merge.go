package candidates

import (
	"fmt"
	"strings"
)

// WebsiteColumns are copied from the websites file onto matching roster rows.
var WebsiteColumns = []string{"campaign_website", "twitter", "facebook", "instagram", "profile_url"}

// MergeStats reports the outcome of MergeWebsites.
type MergeStats struct {
	Rows     int `json:"rows"`
	Matched  int `json:"matched"`
	Enriched int `json:"enriched"`
}

// NormalizeName turns "LAST, FIRST" into "FIRST LAST", uppercased and trimmed.
func NormalizeName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if last, first, ok := strings.Cut(name, ","); ok {
		name = strings.TrimSpace(first) + " " + strings.TrimSpace(last)
	}
	return name
}

// JoinWebsites left-joins websites onto enriched by normalized candidate name.
// A roster row with several website matches is repeated once per match.
func JoinWebsites(enriched, websites *Table) (*Table, MergeStats, error) {
	if !enriched.Has("candidate_name") {
		return nil, MergeStats{}, fmt.Errorf("roster has no candidate_name column")
	}
	if !websites.Has("name") {
		return nil, MergeStats{}, fmt.Errorf("websites file has no name column")
	}
	for _, col := range WebsiteColumns {
		if !websites.Has(col) {
			return nil, MergeStats{}, fmt.Errorf("websites file has no %s column", col)
		}
	}

	byKey := make(map[string][][]string)
	for _, row := range websites.Rows {
		key := strings.ToUpper(strings.TrimSpace(websites.Get(row, "name")))
		values := make([]string, len(WebsiteColumns))
		for i, col := range WebsiteColumns {
			values[i] = websites.Get(row, col)
		}
		byKey[key] = append(byKey[key], values)
	}

	header := append(append([]string{}, enriched.Header...), WebsiteColumns...)
	empty := make([]string, len(WebsiteColumns))
	stats := MergeStats{Enriched: len(enriched.Rows)}

	var rows [][]string
	for _, row := range enriched.Rows {
		base := padRow(row, len(enriched.Header))
		matches := byKey[NormalizeName(enriched.Get(row, "candidate_name"))]
		if len(matches) == 0 {
			matches = [][]string{empty}
		}
		for _, m := range matches {
			out := append(append([]string{}, base...), m...)
			if m[0] != "" {
				stats.Matched++
			}
			rows = append(rows, out)
		}
	}
	stats.Rows = len(rows)
	return NewTable(header, rows), stats, nil
}

// MergeWebsites reads both CSVs, joins them, and writes outPath.
func MergeWebsites(enrichedPath, websitesPath, outPath string) (MergeStats, error) {
	enriched, err := ReadTable(enrichedPath)
	if err != nil {
		return MergeStats{}, err
	}
	websites, err := ReadTable(websitesPath)
	if err != nil {
		return MergeStats{}, err
	}
	merged, stats, err := JoinWebsites(enriched, websites)
	if err != nil {
		return MergeStats{}, err
	}
	if err := WriteTable(outPath, merged); err != nil {
		return MergeStats{}, err
	}
	return stats, nil
}

func padRow(row []string, n int) []string {
	if len(row) >= n {
		return row[:n]
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
