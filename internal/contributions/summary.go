package contributions

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Summary totals one candidate's (or everyone's) persisted contributions.
type Summary struct {
	CandidateID     string          `json:"candidate_id,omitempty"`
	CandidateName   string          `json:"candidate_name,omitempty"`
	Individual      decimal.Decimal `json:"individual"`
	PAC             decimal.Decimal `json:"pac"`
	IndividualCount int             `json:"individual_count"`
	PACCount        int             `json:"pac_count"`
}

// Total is the sum of both buckets.
func (s Summary) Total() decimal.Decimal {
	return s.Individual.Add(s.PAC)
}

// summaryRow is the part of a CSV row that summaries read. The amount is
// parsed from the CSV text so totals do not pass through float64.
type summaryRow struct {
	Kind          Kind
	CandidateID   string
	CandidateName string
	Amount        decimal.Decimal
}

func (s *Summary) add(r summaryRow) {
	if r.Kind == KindIndividual {
		s.Individual = s.Individual.Add(r.Amount)
		s.IndividualCount++
		return
	}
	s.PAC = s.PAC.Add(r.Amount)
	s.PACCount++
}

// Summarize totals the rows for candidateID, or all rows when it is empty.
func (s *Store) Summarize(candidateID string) (Summary, error) {
	summary := Summary{CandidateID: candidateID}
	err := s.eachRow(func(r summaryRow) {
		if candidateID != "" && r.CandidateID != candidateID {
			return
		}
		if summary.CandidateName == "" && candidateID != "" {
			summary.CandidateName = r.CandidateName
		}
		summary.add(r)
	})
	return summary, err
}

// SummarizeAll totals every indexed candidate, sorted by candidate id.
func (s *Store) SummarizeAll() ([]Summary, error) {
	byID := make(map[string]*Summary)
	err := s.eachRow(func(r summaryRow) {
		sum, ok := byID[r.CandidateID]
		if !ok {
			sum = &Summary{CandidateID: r.CandidateID, CandidateName: r.CandidateName}
			byID[r.CandidateID] = sum
		}
		sum.add(r)
	})
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out, nil
}

// eachRow calls fn for every persisted row. Rows with an unparseable amount
// are logged and skipped.
func (s *Store) eachRow(fn func(summaryRow)) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	for _, kind := range []Kind{KindIndividual, KindPAC} {
		path := s.Path(kind)
		skipped := 0
		err := scanFile(path, func(row []string) error {
			amount := decimal.Zero
			if text := strings.TrimSpace(field(row, 3)); text != "" {
				d, err := decimal.NewFromString(text)
				if err != nil {
					skipped++
					s.logger.Warn("skipping contribution row with invalid amount",
						zap.String("path", path), zap.String("amount", text))
					return nil
				}
				amount = d
			}
			fn(summaryRow{
				Kind:          kind,
				CandidateID:   strings.TrimSpace(field(row, 0)),
				CandidateName: field(row, 1),
				Amount:        amount,
			})
			return nil
		})
		if err != nil {
			return err
		}
		if skipped > 0 {
			s.logger.Warn("contribution summary skipped rows", zap.String("path", path), zap.Int("rows", skipped))
		}
	}
	return nil
}
