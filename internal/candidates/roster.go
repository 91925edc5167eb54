// Package candidates loads the enriched candidate roster and answers search
// and locality queries against it.
package candidates

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Roster files inside the data directory.
const (
	EnrichedFile     = "candidates_enriched.csv"
	WebsitesFile     = "candidates_websites.csv"
	WithWebsitesFile = "candidates_enriched_with_websites.csv"
)

// NoDistrict marks a row whose district column is empty or not a number.
const NoDistrict = -1

// Seat types returned by Local.
const (
	TypeHouse  = "House"
	TypeSenate = "Senate"
)

// Candidate is one row of the enriched roster.
type Candidate struct {
	CandidateID     string  `json:"candidate_id"`
	Name            string  `json:"name"`
	State           string  `json:"state"`
	District        int     `json:"district"`
	Office          string  `json:"office,omitempty"`
	Party           string  `json:"party"`
	CommitteeID     string  `json:"committee_id,omitempty"`
	Website         string  `json:"website"`
	IndividualTotal float64 `json:"individual"`
	PACTotal        float64 `json:"pac"`
	Type            string  `json:"type,omitempty"`
}

// FromTable converts roster rows to candidates. Rows without a name or state
// are skipped.
func FromTable(t *Table) []Candidate {
	list := make([]Candidate, 0, len(t.Rows))
	for _, row := range t.Rows {
		name := t.Get(row, "candidate_name")
		state := t.Get(row, "state")
		if name == "" || state == "" {
			continue
		}
		list = append(list, Candidate{
			CandidateID:     t.Get(row, "candidate_id"),
			Name:            name,
			State:           state,
			District:        parseDistrict(t.Get(row, "district")),
			Office:          t.Get(row, "office"),
			Party:           t.Get(row, "party_full"),
			CommitteeID:     t.Get(row, "committee_id"),
			Website:         t.Get(row, "campaign_website"),
			IndividualTotal: parseAmount(t.Get(row, "total_individual_contributions")),
			PACTotal:        parseAmount(t.Get(row, "total_pac_contributions")),
		})
	}
	return list
}

// parseDistrict reads the leading number of a district cell, so "05" and
// "5.0" are both district 5.
func parseDistrict(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoDistrict
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NoDistrict
	}
	return int(f)
}

func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// AttachWebsites copies campaign_website from sites onto candidates whose
// name matches a row's candidate_name exactly. The first match wins.
func AttachWebsites(list []Candidate, sites *Table) {
	if sites == nil || !sites.Has("campaign_website") {
		return
	}
	byName := make(map[string]string, len(sites.Rows))
	for _, row := range sites.Rows {
		name := sites.Get(row, "candidate_name")
		if _, seen := byName[name]; seen {
			continue
		}
		byName[name] = sites.Get(row, "campaign_website")
	}
	for i := range list {
		if site, ok := byName[list[i].Name]; ok && site != "" {
			list[i].Website = site
		}
	}
}

// Roster is the in-memory candidate list, reloadable from the data directory.
type Roster struct {
	dir    string
	logger *zap.Logger

	mu   sync.RWMutex
	list []Candidate
}

// NewRoster creates a roster over dir and loads it. A missing roster file
// leaves the roster empty.
func NewRoster(dir string, logger *zap.Logger) (*Roster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Roster{dir: dir, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roster and website files.
func (r *Roster) Reload() error {
	t, err := ReadTable(filepath.Join(r.dir, EnrichedFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("candidate roster not found", zap.String("dir", r.dir))
			r.set(nil)
			return nil
		}
		return fmt.Errorf("failed to load roster: %w", err)
	}
	list := FromTable(t)

	sites, err := ReadTable(filepath.Join(r.dir, WithWebsitesFile))
	switch {
	case err == nil:
		AttachWebsites(list, sites)
	case errors.Is(err, fs.ErrNotExist):
	default:
		r.logger.Warn("failed to load candidate websites", zap.Error(err))
	}

	r.set(list)
	r.logger.Info("loaded candidate roster", zap.Int("candidates", len(list)))
	return nil
}

func (r *Roster) set(list []Candidate) {
	r.mu.Lock()
	r.list = list
	r.mu.Unlock()
}

// All returns a copy of the roster in file order.
func (r *Roster) All() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Candidate, len(r.list))
	copy(out, r.list)
	return out
}

// Len returns the number of candidates.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

// Offices maps candidate ids to their office letter.
func (r *Roster) Offices() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	offices := make(map[string]string, len(r.list))
	for _, c := range r.list {
		if c.CandidateID != "" && c.Office != "" {
			offices[c.CandidateID] = c.Office
		}
	}
	return offices
}
