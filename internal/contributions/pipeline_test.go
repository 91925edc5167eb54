package contributions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/civicmap/internal/fec"
)

type fakeSource struct {
	mu             sync.Mutex
	committee      string
	committeeErr   error
	receipts       []fec.ScheduleARecord
	receiptsErr    error
	committeeCalls int
	receiptCalls   int
	gotCommittee   string
	gotCycle       int
}

func (f *fakeSource) PrincipalCommittee(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committeeCalls++
	return f.committee, f.committeeErr
}

func (f *fakeSource) ItemizedContributions(_ context.Context, committeeID string, cycle int) ([]fec.ScheduleARecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	f.gotCommittee = committeeID
	f.gotCycle = cycle
	return f.receipts, f.receiptsErr
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committeeCalls + f.receiptCalls
}

func TestPipeline_AlreadyIndexedMakesNoCalls(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append(context.Background(), Batch{PACs: []Record{{CandidateID: "H1", Kind: KindPAC}}})
	require.NoError(t, err)

	src := &fakeSource{committee: "C1"}
	p := NewPipeline(src, store, 2026, nil)

	res, err := p.Fetch(context.Background(), Request{CandidateID: "H1"})
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyHaveData, res.State)
	assert.Zero(t, src.calls(), "no upstream calls for indexed candidates")
}

func TestPipeline_Persisted(t *testing.T) {
	store := newTestStore(t)
	src := &fakeSource{
		committee: "C1",
		receipts: []fec.ScheduleARecord{
			{EntityType: "IND", ContributorName: "A", Amount: 10},
			{EntityType: "IND", ContributorName: "B", Amount: 20},
			{EntityType: "PAC", ContributorName: "P", Amount: 30, CommitteeID: "C77"},
		},
	}
	p := NewPipeline(src, store, 2026, nil)

	res, err := p.Fetch(context.Background(), Request{CandidateID: "H1"})
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, res.State)
	assert.Equal(t, Counts{Individuals: 2, PACs: 1}, res.Counts)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, "C1", src.gotCommittee)
	assert.Equal(t, 2026, src.gotCycle)
	assert.True(t, store.Has("H1"))

	rows, err := store.Records(KindIndividual)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "H1", rows[0].CandidateName, "name defaults to the id")

	// Second fetch short-circuits
	res, err = p.Fetch(context.Background(), Request{CandidateID: "H1"})
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyHaveData, res.State)
	assert.Equal(t, 2, src.calls())
}

func TestPipeline_CommitteeProvidedSkipsLookup(t *testing.T) {
	src := &fakeSource{receipts: []fec.ScheduleARecord{{EntityType: "IND"}}}
	p := NewPipeline(src, newTestStore(t), 2026, nil)

	res, err := p.Fetch(context.Background(), Request{CandidateID: "H1", CandidateName: "DOE", CommitteeID: "C5"})
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, res.State)
	assert.Zero(t, src.committeeCalls)
	assert.Equal(t, "C5", src.gotCommittee)
}

func TestPipeline_NoCommittee(t *testing.T) {
	store := newTestStore(t)
	src := &fakeSource{}
	p := NewPipeline(src, store, 2026, nil)

	res, err := p.Fetch(context.Background(), Request{CandidateID: "H1"})
	require.NoError(t, err, "a missing committee is an outcome, not an error")
	assert.Equal(t, StateNoCommittee, res.State)
	assert.Zero(t, src.receiptCalls)
	assert.False(t, store.Has("H1"))
}

func TestPipeline_Empty(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(&fakeSource{committee: "C1"}, store, 2026, nil)

	res, err := p.Fetch(context.Background(), Request{CandidateID: "H1"})
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, res.State)
	assert.Zero(t, res.Total)
	assert.False(t, store.Has("H1"))
}

func TestPipeline_UpstreamError(t *testing.T) {
	boom := errors.New("malformed")
	p := NewPipeline(&fakeSource{committee: "C1", receiptsErr: boom}, newTestStore(t), 2026, nil)

	_, err := p.Fetch(context.Background(), Request{CandidateID: "H1"})
	assert.ErrorIs(t, err, boom)
}

func TestPipeline_MissingCandidateID(t *testing.T) {
	src := &fakeSource{}
	p := NewPipeline(src, newTestStore(t), 2026, nil)

	res, err := p.Fetch(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingCandidateID)
	assert.Equal(t, StateNotRequested, res.State)
	assert.Zero(t, src.calls())
}

type recordedRun struct {
	candidateID string
	state       State
	counts      Counts
}

type fakeRuns struct {
	runs []recordedRun
	err  error
}

func (f *fakeRuns) RecordRun(_ context.Context, candidateID string, state State, counts Counts) error {
	f.runs = append(f.runs, recordedRun{candidateID: candidateID, state: state, counts: counts})
	return f.err
}

func TestPipeline_RecordsRuns(t *testing.T) {
	store := newTestStore(t)
	src := &fakeSource{
		committee: "C1",
		receipts:  []fec.ScheduleARecord{{EntityType: "IND", ContributorName: "A", Amount: 5}},
	}
	runs := &fakeRuns{err: errors.New("db down")}
	p := NewPipeline(src, store, 2026, nil)
	p.RecordRunsTo(runs)

	res, err := p.Fetch(context.Background(), Request{CandidateID: "H9"})
	require.NoError(t, err, "recorder failures are logged, not returned")
	assert.Equal(t, StatePersisted, res.State)

	_, err = p.Fetch(context.Background(), Request{CandidateID: "H9"})
	require.NoError(t, err)

	require.Len(t, runs.runs, 1, "already-indexed fetches are not recorded")
	assert.Equal(t, recordedRun{candidateID: "H9", state: StatePersisted, counts: Counts{Individuals: 1}}, runs.runs[0])
}
