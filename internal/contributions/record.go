// Package contributions fetches itemized FEC receipts for candidates and
// persists them to append-only CSV files.
package contributions

import (
	"github.com/jonathan/civicmap/internal/fec"
)

// Kind separates individual donors from committee (PAC) donors.
type Kind string

const (
	KindIndividual Kind = "individual"
	KindPAC        Kind = "pac"
)

// Record is one persisted contribution row.
type Record struct {
	CandidateID     string  `json:"candidate_id"`
	CandidateName   string  `json:"candidate_name"`
	ContributorName string  `json:"contributor_name"`
	Amount          float64 `json:"amount"`
	Date            string  `json:"date"`
	City            string  `json:"city"`
	State           string  `json:"state"`
	Employer        string  `json:"employer,omitempty"`
	Occupation      string  `json:"occupation,omitempty"`
	CommitteeID     string  `json:"committee_id,omitempty"`
	Kind            Kind    `json:"kind"`
}

// Counts reports rows per bucket.
type Counts struct {
	Individuals int `json:"individuals"`
	PACs        int `json:"pacs"`
}

// Total is the number of rows across both buckets.
func (c Counts) Total() int {
	return c.Individuals + c.PACs
}

// Batch is a classified set of rows for a single candidate.
type Batch struct {
	Individuals []Record
	PACs        []Record
}

// Counts returns the bucket sizes.
func (b Batch) Counts() Counts {
	return Counts{Individuals: len(b.Individuals), PACs: len(b.PACs)}
}

// Empty reports whether the batch has no rows.
func (b Batch) Empty() bool {
	return len(b.Individuals) == 0 && len(b.PACs) == 0
}

// Classify splits schedule A receipts into individual and PAC rows for one
// candidate. Entity type IND is individual; everything else is a PAC.
func Classify(candidateID, candidateName string, receipts []fec.ScheduleARecord) Batch {
	var b Batch
	for _, r := range receipts {
		rec := Record{
			CandidateID:     candidateID,
			CandidateName:   candidateName,
			ContributorName: r.ContributorName,
			Amount:          r.Amount,
			Date:            r.Date,
			City:            r.ContributorCity,
			State:           r.ContributorState,
		}
		if r.IsIndividual() {
			rec.Kind = KindIndividual
			rec.Employer = r.ContributorEmployer
			rec.Occupation = r.ContributorOccupation
			b.Individuals = append(b.Individuals, rec)
			continue
		}
		rec.Kind = KindPAC
		rec.CommitteeID = r.CommitteeID
		b.PACs = append(b.PACs, rec)
	}
	return b
}
