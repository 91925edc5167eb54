package contributions

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonathan/civicmap/internal/fec"
)

// SplitCounts reports rows written per office file.
type SplitCounts struct {
	House  Counts `json:"house"`
	Senate Counts `json:"senate"`
}

// SplitFileName returns the per-office file name, e.g.
// individual_contributions_house.csv.
func SplitFileName(kind Kind, office string) string {
	label := "house"
	if office == fec.OfficeSenate {
		label = "senate"
	}
	base := strings.TrimSuffix(FileName(kind), ".csv")
	return base + "_" + label + ".csv"
}

// SplitByOffice writes House and Senate copies of both CSVs into outDir.
// offices maps candidate id to office code; rows for candidates with no
// House or Senate office are dropped.
func (s *Store) SplitByOffice(outDir string, offices map[string]string) (SplitCounts, error) {
	var counts SplitCounts
	for _, kind := range []Kind{KindIndividual, KindPAC} {
		records, err := s.Records(kind)
		if err != nil {
			return SplitCounts{}, err
		}

		var house, senate []Record
		for _, r := range records {
			switch offices[r.CandidateID] {
			case fec.OfficeHouse:
				house = append(house, r)
			case fec.OfficeSenate:
				senate = append(senate, r)
			}
		}

		for office, rows := range map[string][]Record{fec.OfficeHouse: house, fec.OfficeSenate: senate} {
			path := filepath.Join(outDir, SplitFileName(kind, office))
			if err := WriteFile(path, kind, rows); err != nil {
				return SplitCounts{}, fmt.Errorf("failed to split %s: %w", FileName(kind), err)
			}
		}

		if kind == KindIndividual {
			counts.House.Individuals = len(house)
			counts.Senate.Individuals = len(senate)
		} else {
			counts.House.PACs = len(house)
			counts.Senate.PACs = len(senate)
		}
	}
	return counts, nil
}
