package contributions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/fec"
	"github.com/jonathan/civicmap/internal/metrics"
)

// State is a stage or terminal outcome of a contribution fetch.
type State string

const (
	StateNotRequested       State = "not_requested"
	StateAlreadyHaveData    State = "already_have_data"
	StateCommitteeResolving State = "committee_resolving"
	StatePaginating         State = "paginating"
	StatePersisted          State = "persisted"
	StateNoCommittee        State = "no_committee"
	StateEmpty              State = "empty"
)

// ErrMissingCandidateID is returned for a request without a candidate id.
var ErrMissingCandidateID = errors.New("missing candidate_id")

var errNoCommittee = errors.New("no principal committee")

// Source is the upstream the pipeline reads from.
type Source interface {
	PrincipalCommittee(ctx context.Context, candidateID string) (string, error)
	ItemizedContributions(ctx context.Context, committeeID string, cycle int) ([]fec.ScheduleARecord, error)
}

// RunRecorder keeps an audit trail of finished fetches.
type RunRecorder interface {
	RecordRun(ctx context.Context, candidateID string, state State, counts Counts) error
}

// Request asks for one candidate's contributions.
type Request struct {
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	CommitteeID   string `json:"committee_id,omitempty"`
}

// Result is the terminal outcome of Fetch.
type Result struct {
	State  State  `json:"state"`
	Counts Counts `json:"contributions"`
	Total  int    `json:"total"`
}

// Pipeline resolves a candidate's principal committee, pages through its
// itemized receipts and persists them once per candidate.
type Pipeline struct {
	source Source
	store  *Store
	cycle  int
	runs   RunRecorder
	logger *zap.Logger
}

// NewPipeline wires a pipeline over source and store for one election cycle.
func NewPipeline(source Source, store *Store, cycle int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{source: source, store: store, cycle: cycle, logger: logger}
}

// RecordRunsTo makes the pipeline report every finished fetch that reached
// upstream to r.
func (p *Pipeline) RecordRunsTo(r RunRecorder) {
	p.runs = r
}

// Fetch runs the pipeline for req. Candidates already indexed short-circuit
// without any upstream call.
func (p *Pipeline) Fetch(ctx context.Context, req Request) (Result, error) {
	if req.CandidateID == "" {
		return Result{State: StateNotRequested}, ErrMissingCandidateID
	}
	name := req.CandidateName
	if name == "" {
		name = req.CandidateID
	}
	log := p.logger.With(zap.String("candidate_id", req.CandidateID))

	// Callers naming a different committee must not join this execution.
	flightKey := req.CandidateID + "|" + req.CommitteeID
	res, err := p.store.AppendOnceAs(ctx, req.CandidateID, flightKey, func(ctx context.Context) (Batch, error) {
		committeeID := req.CommitteeID
		if committeeID == "" {
			log.Info("resolving principal committee", zap.String("state", string(StateCommitteeResolving)))
			id, err := p.source.PrincipalCommittee(ctx, req.CandidateID)
			if err != nil {
				return Batch{}, err
			}
			if id == "" {
				return Batch{}, errNoCommittee
			}
			committeeID = id
		}

		log.Info("fetching itemized contributions",
			zap.String("state", string(StatePaginating)),
			zap.String("committee_id", committeeID))
		receipts, err := p.source.ItemizedContributions(ctx, committeeID, p.cycle)
		if err != nil {
			return Batch{}, err
		}
		return Classify(req.CandidateID, name, receipts), nil
	})

	var result Result
	switch {
	case errors.Is(err, errNoCommittee):
		result = Result{State: StateNoCommittee}
	case err != nil:
		metrics.ContributionFetches.WithLabelValues("error").Inc()
		return Result{State: StateNotRequested}, fmt.Errorf("failed to fetch contributions for %s: %w", req.CandidateID, err)
	case res.AlreadyIndexed:
		result = Result{State: StateAlreadyHaveData}
	case res.Counts.Total() == 0:
		result = Result{State: StateEmpty}
	default:
		result = Result{State: StatePersisted, Counts: res.Counts, Total: res.Counts.Total()}
	}

	metrics.ContributionFetches.WithLabelValues(string(result.State)).Inc()
	if p.runs != nil && result.State != StateAlreadyHaveData {
		if err := p.runs.RecordRun(ctx, req.CandidateID, result.State, result.Counts); err != nil {
			log.Warn("failed to record fetch run", zap.Error(err))
		}
	}
	log.Info("contribution fetch finished",
		zap.String("state", string(result.State)),
		zap.Int("individuals", result.Counts.Individuals),
		zap.Int("pacs", result.Counts.PACs))
	return result, nil
}
