package server

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/fec"
)

// handleCandidates returns the enriched FEC candidate list for party and cycle.
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Candidates == nil || !s.deps.Candidates.HasAPIKey() {
		s.errorResponse(w, http.StatusInternalServerError, "Missing FEC API key")
		return
	}

	party := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("party")))
	if party == "" {
		party = s.cfg.Party
	}
	cycle := s.cfg.Cycle
	if v := r.URL.Query().Get("cycle"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1980 || n%2 != 0 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid cycle")
			return
		}
		cycle = n
	}

	list, err := s.deps.Candidates.EnrichedCandidates(r.Context(), party, cycle)
	if err != nil {
		s.logger.Error("FEC API error", zap.String("party", party), zap.Int("cycle", cycle), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch candidates")
		return
	}
	if list == nil {
		list = []fec.Candidate{}
	}
	s.jsonResponse(w, http.StatusOK, list)
}

// handleSearchCandidates searches the roster by name or by state and district.
func (s *Server) handleSearchCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := candidates.DefaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	s.jsonResponse(w, http.StatusOK, candidates.Search(s.roster(), q, limit))
}

// handleLocalCandidates returns a district's House candidates and its state's
// Senate candidates for one party filter.
func (s *Server) handleLocalCandidates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// unknown selectors fall back to the default filter
	party := strings.ToLower(strings.TrimSpace(query.Get("party")))

	state := strings.ToUpper(strings.TrimSpace(query.Get("state")))
	if _, ok := candidates.StateName(state); !ok {
		s.errorResponse(w, http.StatusBadRequest, "Unknown state")
		return
	}

	district := 0
	if v := query.Get("district"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid district")
			return
		}
		district = n
	}

	s.jsonResponse(w, http.StatusOK, candidates.Local(s.roster(), party, state, district))
}

func (s *Server) roster() []candidates.Candidate {
	if s.deps.Roster == nil {
		return nil
	}
	return s.deps.Roster.All()
}
