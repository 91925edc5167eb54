package fec

import (
	"encoding/json"
	"fmt"
)

// Office codes returned by the candidates endpoint.
const (
	OfficeHouse     = "H"
	OfficeSenate    = "S"
	OfficePresident = "P"
)

// DesignationPrincipal marks a candidate's principal campaign committee.
const DesignationPrincipal = "P"

// EntityIndividual is the schedule A entity type for individual contributors.
const EntityIndividual = "IND"

// Candidate is one row of the FEC candidates listing. Fields the server does
// not model are preserved and echoed back when the candidate is re-encoded.
type Candidate struct {
	CandidateID         string       `json:"candidate_id"`
	Name                string       `json:"name"`
	Office              string       `json:"office"`
	State               string       `json:"state"`
	District            string       `json:"district"`
	Party               string       `json:"party"`
	PartyFull           string       `json:"party_full"`
	PrincipalCommittees []Committee  `json:"principal_committees,omitempty"`
	Fundraising         *Fundraising `json:"fundraising"`

	extra map[string]json.RawMessage
}

type candidateFields Candidate

// UnmarshalJSON decodes the modelled fields and keeps the rest verbatim.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var fields candidateFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range []string{
		"candidate_id", "name", "office", "state", "district",
		"party", "party_full", "principal_committees", "fundraising",
	} {
		delete(raw, key)
	}
	*c = Candidate(fields)
	c.extra = raw
	return nil
}

// MarshalJSON merges the modelled fields over the preserved upstream fields.
func (c Candidate) MarshalJSON() ([]byte, error) {
	modelled, err := json.Marshal(candidateFields(c))
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return modelled, nil
	}

	out := make(map[string]json.RawMessage, len(c.extra)+9)
	for k, v := range c.extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(modelled, &fields); err != nil {
		return nil, fmt.Errorf("failed to merge candidate fields: %w", err)
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// IsCongressional reports whether the candidate runs for the House or Senate.
func (c Candidate) IsCongressional() bool {
	return c.Office == OfficeHouse || c.Office == OfficeSenate
}

// PrincipalCommitteeID returns the first principal committee id, if the
// listing carried one.
func (c Candidate) PrincipalCommitteeID() string {
	for _, cm := range c.PrincipalCommittees {
		if cm.Designation == "" || cm.Designation == DesignationPrincipal {
			return cm.CommitteeID
		}
	}
	return ""
}

// Fundraising is the projection of a candidate's totals used by the front end.
type Fundraising struct {
	Raised     float64 `json:"raised"`
	Spent      float64 `json:"spent"`
	CashOnHand float64 `json:"cash_on_hand"`
	Debt       float64 `json:"debt"`
}

// Totals is one element of the candidate totals response.
type Totals struct {
	CandidateID          string  `json:"candidate_id"`
	Cycle                int     `json:"cycle"`
	Receipts             float64 `json:"receipts"`
	Disbursements        float64 `json:"disbursements"`
	CashOnHandEndPeriod  float64 `json:"cash_on_hand_end_period"`
	DebtsOwedByCommittee float64 `json:"debts_owed_by_committee"`
}

// Fundraising maps upstream totals to the front-end projection.
func (t Totals) Fundraising() *Fundraising {
	return &Fundraising{
		Raised:     t.Receipts,
		Spent:      t.Disbursements,
		CashOnHand: t.CashOnHandEndPeriod,
		Debt:       t.DebtsOwedByCommittee,
	}
}

// Committee is one element of the candidate committees response.
type Committee struct {
	CommitteeID   string `json:"committee_id"`
	Name          string `json:"name,omitempty"`
	Designation   string `json:"designation,omitempty"`
	CommitteeType string `json:"committee_type,omitempty"`
}

// ScheduleARecord is one itemized receipt.
type ScheduleARecord struct {
	EntityType            string  `json:"entity_type"`
	ContributorName       string  `json:"contributor_name"`
	Amount                float64 `json:"contribution_receipt_amount"`
	Date                  string  `json:"contribution_receipt_date"`
	ContributorCity       string  `json:"contributor_city"`
	ContributorState      string  `json:"contributor_state"`
	ContributorEmployer   string  `json:"contributor_employer"`
	ContributorOccupation string  `json:"contributor_occupation"`
	CommitteeID           string  `json:"committee_id"`
}

// IsIndividual reports whether the record came from an individual donor.
func (r ScheduleARecord) IsIndividual() bool {
	return r.EntityType == EntityIndividual
}

// Pagination is the paging envelope shared by list endpoints.
type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
}

type candidatesResponse struct {
	Results    []Candidate `json:"results"`
	Pagination Pagination  `json:"pagination"`
}

type totalsResponse struct {
	Results []Totals `json:"results"`
}

type committeesResponse struct {
	Results []Committee `json:"results"`
}

type scheduleAResponse struct {
	Results    []ScheduleARecord `json:"results"`
	Pagination Pagination        `json:"pagination"`
}
