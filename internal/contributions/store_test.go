package contributions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestNewStore_BuildsIndexFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndividualFile), []byte(
		"candidate_id,candidate_name,contributor_name,amount,date,city,state,employer,occupation\n"+
			"H1,\"DOE, JANE\",A,10,2025-01-01,X,TX,E,O\n"+
			" H2 ,ROE,B,20,2025-01-01,X,TX,E,O\n"+
			"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PACFile), []byte(
		"candidate_id,candidate_name,contributor_name,amount,date,city,state,committee_id\n"+
			"S1,POE,PAC,500,2025-01-01,X,CA,C1\n"), 0o644))

	s, err := NewStore(dir)
	require.NoError(t, err)

	assert.True(t, s.Has("H1"))
	assert.True(t, s.Has("H2"), "ids are trimmed")
	assert.True(t, s.Has("S1"))
	assert.False(t, s.Has("candidate_id"), "header is skipped")
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"H1", "H2", "S1"}, s.IDs())
}

func TestNewStore_EmptyDir(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)

	s := newTestStore(t)
	assert.Zero(t, s.Len())
}

func TestAppend_WritesHeaderOnceAndIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := Batch{
		Individuals: []Record{{CandidateID: "H1", CandidateName: "DOE", ContributorName: "A", Amount: 5, Kind: KindIndividual}},
	}
	counts, err := s.Append(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, Counts{Individuals: 1}, counts)

	_, err = s.Append(ctx, Batch{
		Individuals: []Record{{CandidateID: "H2", ContributorName: "B", Amount: 7, Kind: KindIndividual}},
		PACs:        []Record{{CandidateID: "H2", ContributorName: "PAC", Amount: 9, CommitteeID: "C1", Kind: KindPAC}},
	})
	require.NoError(t, err)

	ind := readCSV(t, s.Path(KindIndividual))
	require.Len(t, ind, 3)
	assert.Equal(t, IndividualHeader, ind[0])
	assert.Equal(t, "H1", ind[1][0])
	assert.Equal(t, "H2", ind[2][0])

	pac := readCSV(t, s.Path(KindPAC))
	require.Len(t, pac, 2)
	assert.Equal(t, PACHeader, pac[0])
	assert.Equal(t, []string{"H2", "", "PAC", "9", "", "", "", "C1"}, pac[1])

	assert.True(t, s.Has("H1"))
	assert.True(t, s.Has("H2"))
}

func TestAppend_EscapingRoundTrips(t *testing.T) {
	s := newTestStore(t)

	names := []string{
		"SMITH, JOHN",
		`THE "BEST" PAC`,
		"LINE ONE\nLINE TWO",
		`ALL, "OF"` + "\nTHEM",
		" LEADING SPACE",
	}
	var rows []Record
	for _, n := range names {
		rows = append(rows, Record{CandidateID: "H1", CandidateName: "DOE, JANE", ContributorName: n, Amount: 1, Kind: KindIndividual})
	}
	_, err := s.Append(context.Background(), Batch{Individuals: rows})
	require.NoError(t, err)

	parsed := readCSV(t, s.Path(KindIndividual))
	require.Len(t, parsed, len(names)+1)
	for i, n := range names {
		assert.Equal(t, n, parsed[i+1][2])
		assert.Equal(t, "DOE, JANE", parsed[i+1][1])
	}

	raw, err := os.ReadFile(s.Path(KindIndividual))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"THE ""BEST"" PAC"`, "internal quotes are doubled")

	// The index still sees a single candidate despite embedded newlines.
	require.NoError(t, s.Reload())
	assert.Equal(t, []string{"H1"}, s.IDs())
}

func TestAppendOnce_AlreadyIndexedSkipsProduce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, Batch{PACs: []Record{{CandidateID: "H1", Kind: KindPAC}}})
	require.NoError(t, err)

	called := false
	res, err := s.AppendOnce(ctx, "H1", func(context.Context) (Batch, error) {
		called = true
		return Batch{}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.AlreadyIndexed)
	assert.False(t, called)
}

func TestAppendOnce_ConcurrentCallsAppendOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var produced atomic.Int32
	produce := func(context.Context) (Batch, error) {
		produced.Add(1)
		time.Sleep(50 * time.Millisecond)
		return Batch{
			Individuals: []Record{
				{CandidateID: "H1", ContributorName: "A", Kind: KindIndividual},
				{CandidateID: "H1", ContributorName: "B", Kind: KindIndividual},
			},
		}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendOnce(ctx, "H1", produce)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), produced.Load())
	rows := readCSV(t, s.Path(KindIndividual))
	assert.Len(t, rows, 3, "header plus exactly one batch")
}

func TestAppendOnce_EmptyBatchDoesNotIndex(t *testing.T) {
	s := newTestStore(t)

	res, err := s.AppendOnce(context.Background(), "H1", func(context.Context) (Batch, error) {
		return Batch{}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyIndexed)
	assert.Zero(t, res.Counts.Total())
	assert.False(t, s.Has("H1"))

	// Both files exist with headers only
	assert.Equal(t, [][]string{IndividualHeader}, readCSV(t, s.Path(KindIndividual)))
	assert.Equal(t, [][]string{PACHeader}, readCSV(t, s.Path(KindPAC)))
}

func TestAppendOnce_ProduceError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("upstream down")

	_, err := s.AppendOnce(context.Background(), "H1", func(context.Context) (Batch, error) {
		return Batch{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Has("H1"))

	// The lock was released: a retry runs produce again
	res, err := s.AppendOnce(context.Background(), "H1", func(context.Context) (Batch, error) {
		return Batch{PACs: []Record{{CandidateID: "H1", Kind: KindPAC}}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.PACs)
}

func TestAppendOnce_LockHeldElsewhere(t *testing.T) {
	locker := NewMemoryLocker()
	s := newTestStore(t, WithLocker(locker))

	_, ok, err := locker.TryLock(context.Background(), "civicmap:contributions:H1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.AppendOnce(context.Background(), "H1", func(context.Context) (Batch, error) {
		t.Fatal("produce must not run without the lock")
		return Batch{}, nil
	})
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestAppendOnce_CancelledCallerDoesNotFailJoiners(t *testing.T) {
	s := newTestStore(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	produce := func(ctx context.Context) (Batch, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		}
		return Batch{PACs: []Record{{CandidateID: "H1", ContributorName: "P", Kind: KindPAC}}}, nil
	}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.AppendOnce(first, "H1", produce)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := s.AppendOnce(context.Background(), "H1", produce)
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.True(t, s.Has("H1"))
	assert.Len(t, readCSV(t, s.Path(KindPAC)), 2, "header plus exactly one batch")
}

func TestAppendOnceAs_OtherKeyDoesNotJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.AppendOnceAs(ctx, "H1", "H1|C1", func(context.Context) (Batch, error) {
			close(started)
			<-release
			return Batch{PACs: []Record{{CandidateID: "H1", CommitteeID: "C1", Kind: KindPAC}}}, nil
		})
		done <- err
	}()
	<-started

	_, err := s.AppendOnceAs(ctx, "H1", "H1|C2", func(context.Context) (Batch, error) {
		t.Error("produce must not run while another committee's fetch holds the lock")
		return Batch{}, nil
	})
	assert.ErrorIs(t, err, ErrInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, s.Has("H1"))
}

func TestAppend_UnopenableBucketWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, os.Mkdir(s.Path(KindPAC), 0o755))

	batch := Batch{
		Individuals: []Record{{CandidateID: "H1", ContributorName: "A", Kind: KindIndividual}},
		PACs:        []Record{{CandidateID: "H1", ContributorName: "P", Kind: KindPAC}},
	}
	_, err := s.Append(ctx, batch)
	require.Error(t, err)
	assert.False(t, s.Has("H1"))
	records, err := ReadFile(s.Path(KindIndividual), KindIndividual)
	require.NoError(t, err)
	assert.Empty(t, records)

	// A retry once the file is writable lands the batch exactly once
	require.NoError(t, os.Remove(s.Path(KindPAC)))
	counts, err := s.Append(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total())
	assert.True(t, s.Has("H1"))
	assert.Len(t, readCSV(t, s.Path(KindIndividual)), 2)
	assert.Len(t, readCSV(t, s.Path(KindPAC)), 2)
}

func TestAppend_RollbackRestoresFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), Batch{Individuals: []Record{{CandidateID: "H1", Kind: KindIndividual}}})
	require.NoError(t, err)
	before := readCSV(t, s.Path(KindIndividual))

	b, err := s.openBucket(KindIndividual)
	require.NoError(t, err)
	defer b.close()
	require.NoError(t, b.write([]Record{{CandidateID: "H2", ContributorName: "B"}}))
	require.Len(t, readCSV(t, s.Path(KindIndividual)), len(before)+1)

	s.rollback(b)
	assert.Equal(t, before, readCSV(t, s.Path(KindIndividual)))
}

type recordingMirror struct {
	mu   sync.Mutex
	rows []Record
	err  error
}

func (m *recordingMirror) InsertContributions(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, records...)
	return m.err
}

func TestAppend_Mirror(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("db down")}
	s := newTestStore(t, WithMirror(mirror))

	counts, err := s.Append(context.Background(), Batch{
		Individuals: []Record{{CandidateID: "H1", Kind: KindIndividual}},
		PACs:        []Record{{CandidateID: "H1", Kind: KindPAC}},
	})
	require.NoError(t, err, "mirror failures do not fail the append")
	assert.Equal(t, 2, counts.Total())
	assert.Len(t, mirror.rows, 2)
}

func TestReload_PicksUpExternalWrites(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Has("S9"))

	content := strings.Join(PACHeader, ",") + "\nS9,X,Y,1,,,,C\n"
	require.NoError(t, os.WriteFile(s.Path(KindPAC), []byte(content), 0o644))

	require.NoError(t, s.Reload())
	assert.True(t, s.Has("S9"))
}

func TestReload_ConcurrentWithAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("H%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, Batch{Individuals: []Record{{CandidateID: id, Kind: KindIndividual}}})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reload())
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		assert.True(t, s.Has(fmt.Sprintf("H%d", i)), "H%d", i)
	}
	assert.Equal(t, 20, s.Len())
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, 10*time.Millisecond) }()

	// Give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)

	content := strings.Join(PACHeader, ",") + "\nS7,X,Y,1,,,,C\n"
	require.NoError(t, os.WriteFile(s.Path(KindPAC), []byte(content), 0o644))

	assert.Eventually(t, func() bool { return s.Has("S7") }, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong token does not release
	require.NoError(t, l.Release(ctx, "k", "other"))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", token))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)

	_, _, err = l.TryLock(ctx, "", time.Minute)
	assert.Error(t, err)
	_, _, err = l.TryLock(ctx, "x", 0)
	assert.Error(t, err)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	_, ok, _ := l.TryLock(ctx, "k", time.Millisecond)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok, "expired leases can be taken over")
}
