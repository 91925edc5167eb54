package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/contributions"
)

// fetchContributionsResponse is the body of a handled /api/fetch-contributions call.
type fetchContributionsResponse struct {
	Success         bool                  `json:"success"`
	AlreadyHaveData bool                  `json:"alreadyHaveData,omitempty"`
	Message         string                `json:"message,omitempty"`
	Contributions   *contributions.Counts `json:"contributions,omitempty"`
	Total           *int                  `json:"total,omitempty"`
}

// summaryResponse adds the combined total to a contributions summary.
type summaryResponse struct {
	contributions.Summary
	Total decimal.Decimal `json:"total"`
}

// handleFetchContributions fetches and persists one candidate's itemized
// contributions unless they are already indexed.
func (s *Server) handleFetchContributions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Candidates == nil || !s.deps.Candidates.HasAPIKey() {
		s.errorResponse(w, http.StatusInternalServerError, "Missing FEC API key")
		return
	}

	var req contributions.Request
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	if req.CandidateID == "" {
		s.errorResponse(w, http.StatusBadRequest, "Missing candidate_id")
		return
	}

	res, err := s.deps.Contributions.Fetch(r.Context(), req)
	if err != nil {
		if errors.Is(err, contributions.ErrInProgress) {
			s.errorResponse(w, http.StatusConflict, "Contribution fetch already in progress")
			return
		}
		s.logger.Error("error fetching contributions",
			zap.String("candidate_id", req.CandidateID), zap.Error(err))
		s.errorResponse(w, HTTPStatus(err), "Failed to fetch contributions")
		return
	}

	s.jsonResponse(w, http.StatusOK, fetchResponse(res))
}

// fetchResponse maps a pipeline result onto the response shape the front end
// expects.
func fetchResponse(res contributions.Result) fetchContributionsResponse {
	zero := 0
	switch res.State {
	case contributions.StateAlreadyHaveData:
		return fetchContributionsResponse{Success: true, AlreadyHaveData: true}
	case contributions.StateNoCommittee:
		return fetchContributionsResponse{
			Success:       false,
			Message:       "No principal committee found",
			Contributions: &contributions.Counts{},
		}
	case contributions.StateEmpty:
		return fetchContributionsResponse{
			Success:       true,
			Message:       "No contributions found",
			Contributions: &contributions.Counts{},
			Total:         &zero,
		}
	default:
		counts := res.Counts
		total := res.Total
		return fetchContributionsResponse{Success: true, Contributions: &counts, Total: &total}
	}
}

// handleContributionSummary totals persisted contributions for one candidate,
// or for everyone when candidate_id is absent.
func (s *Server) handleContributionSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summaries == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Contributions are not available")
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("candidate_id"))
	summary, err := s.deps.Summaries.Summarize(id)
	if err != nil {
		s.logger.Error("failed to summarize contributions", zap.String("candidate_id", id), zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to summarize contributions")
		return
	}
	s.jsonResponse(w, http.StatusOK, summaryResponse{Summary: summary, Total: summary.Total()})
}
