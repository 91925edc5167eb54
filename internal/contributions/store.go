package contributions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/civicmap/internal/metrics"
)

// DefaultLockTTL bounds how long one candidate fetch may hold its lock.
const DefaultLockTTL = 10 * time.Minute

// ErrInProgress is returned when another fetch holds the candidate's lock.
var ErrInProgress = errors.New("contribution fetch already in progress")

// Mirror receives every appended batch, e.g. a database copy of the CSVs.
type Mirror interface {
	InsertContributions(ctx context.Context, records []Record) error
}

// Store owns the two contribution CSVs in a directory and the index of
// candidate ids that have at least one row in either file.
type Store struct {
	dir     string
	locker  Locker
	lockTTL time.Duration
	mirror  Mirror
	logger  *zap.Logger

	fileMu sync.Mutex // serializes appends and full reads

	indexMu sync.RWMutex
	index   map[string]struct{}

	flight singleflight.Group
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLocker replaces the default process-local locker.
func WithLocker(l Locker) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTTL = d }
}

// WithMirror copies every appended row to m.
func WithMirror(m Mirror) StoreOption {
	return func(s *Store) { s.mirror = m }
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore opens the CSV store in dir, creating the directory if needed, and
// builds the index. Unreadable files are logged and indexed as far as they parse.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, errors.New("contributions directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	s := &Store{
		dir:     dir,
		locker:  NewMemoryLocker(),
		lockTTL: DefaultLockTTL,
		logger:  zap.NewNop(),
		index:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		s.logger.Warn("contribution index built from partial data", zap.Error(err))
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the CSV path for a bucket.
func (s *Store) Path(kind Kind) string {
	return filepath.Join(s.dir, FileName(kind))
}

// Has reports whether candidateID has persisted rows.
func (s *Store) Has(candidateID string) bool {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	_, ok := s.index[candidateID]
	return ok
}

// Len returns the number of indexed candidates.
func (s *Store) Len() int {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return len(s.index)
}

// IDs returns the indexed candidate ids, sorted.
func (s *Store) IDs() []string {
	s.indexMu.RLock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	s.indexMu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Reload rebuilds the index from column 0 of both CSVs. The index is always
// replaced; the returned error lists files that could not be fully read.
func (s *Store) Reload() error {
	s.fileMu.Lock()
	index, err := s.scanIndex()
	s.indexMu.Lock()
	s.index = index
	s.indexMu.Unlock()
	s.fileMu.Unlock()

	metrics.IndexedCandidates.Set(float64(len(index)))
	s.logger.Debug("contribution index loaded", zap.Int("candidates", len(index)))
	return err
}

func (s *Store) scanIndex() (map[string]struct{}, error) {
	index := make(map[string]struct{})
	var errs []error
	for _, kind := range []Kind{KindIndividual, KindPAC} {
		err := scanFile(s.Path(kind), func(row []string) error {
			id := strings.TrimSpace(row[0])
			if id != "" && id != "candidate_id" {
				index[id] = struct{}{}
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return index, errors.Join(errs...)
}

// AppendResult describes what AppendOnce did.
type AppendResult struct {
	AlreadyIndexed bool
	Counts         Counts
}

// ProduceFunc builds the rows to append. It only runs when the candidate is
// not yet indexed.
type ProduceFunc func(ctx context.Context) (Batch, error)

// AppendOnce runs produce and appends its rows unless candidateID is already
// indexed. Concurrent calls for the same candidate share one execution, and
// the index check, produce and append all run while holding the candidate's
// lock, so a candidate's rows are written at most once.
func (s *Store) AppendOnce(ctx context.Context, candidateID string, produce ProduceFunc) (AppendResult, error) {
	return s.AppendOnceAs(ctx, candidateID, candidateID, produce)
}

// AppendOnceAs is AppendOnce with an explicit flight key. Only callers with
// the same key join a running execution; a caller with another key for the
// same candidate gets ErrInProgress while the candidate's lock is held.
//
// The shared execution is detached from any one caller's context and bounded
// by the lock TTL. A caller whose ctx ends stops waiting with ctx.Err() while
// the others still get the result.
func (s *Store) AppendOnceAs(ctx context.Context, candidateID, flightKey string, produce ProduceFunc) (AppendResult, error) {
	if s.Has(candidateID) {
		return AppendResult{AlreadyIndexed: true}, nil
	}

	ch := s.flight.DoChan(flightKey, func() (any, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTTL)
		defer cancel()
		return s.appendLocked(work, candidateID, produce)
	})

	select {
	case <-ctx.Done():
		return AppendResult{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight contribution fetch", zap.String("candidate_id", candidateID))
		}
		if res.Err != nil {
			return AppendResult{}, res.Err
		}
		return res.Val.(AppendResult), nil
	}
}

func (s *Store) appendLocked(ctx context.Context, candidateID string, produce ProduceFunc) (AppendResult, error) {
	key := "civicmap:contributions:" + candidateID
	token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to lock %s: %w", candidateID, err)
	}
	if !ok {
		return AppendResult{}, ErrInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("failed to release contribution lock", zap.String("candidate_id", candidateID), zap.Error(err))
		}
	}()

	// Another process may have written rows since the index was last loaded.
	if _, isLocal := s.locker.(*MemoryLocker); !isLocal {
		if err := s.Reload(); err != nil {
			s.logger.Warn("contribution index reload incomplete", zap.Error(err))
		}
	}
	if s.Has(candidateID) {
		return AppendResult{AlreadyIndexed: true}, nil
	}

	batch, err := produce(ctx)
	if err != nil {
		return AppendResult{}, err
	}

	counts, err := s.Append(ctx, batch)
	if err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Counts: counts}, nil
}

// Append writes a batch to both CSVs, creating each file with its header if
// absent, then adds every candidate in the batch to the index. Both files are
// opened before any row is written, and a failed write truncates both back to
// their previous size, so a batch lands in full or not at all.
func (s *Store) Append(ctx context.Context, batch Batch) (Counts, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	ind, err := s.openBucket(KindIndividual)
	if err != nil {
		return Counts{}, err
	}
	defer ind.close()
	pac, err := s.openBucket(KindPAC)
	if err != nil {
		return Counts{}, err
	}
	defer pac.close()

	if err := ind.write(batch.Individuals); err != nil {
		s.rollback(ind, pac)
		return Counts{}, err
	}
	if err := pac.write(batch.PACs); err != nil {
		s.rollback(ind, pac)
		return Counts{}, err
	}

	counts := batch.Counts()
	metrics.ContributionRows.WithLabelValues(string(KindIndividual)).Add(float64(counts.Individuals))
	metrics.ContributionRows.WithLabelValues(string(KindPAC)).Add(float64(counts.PACs))

	if counts.Total() > 0 {
		s.indexMu.Lock()
		for _, rows := range [][]Record{batch.Individuals, batch.PACs} {
			for _, r := range rows {
				s.index[r.CandidateID] = struct{}{}
			}
		}
		size := len(s.index)
		s.indexMu.Unlock()
		metrics.IndexedCandidates.Set(float64(size))
	}

	if s.mirror != nil && counts.Total() > 0 {
		all := make([]Record, 0, counts.Total())
		all = append(all, batch.Individuals...)
		all = append(all, batch.PACs...)
		if err := s.mirror.InsertContributions(ctx, all); err != nil {
			s.logger.Warn("failed to mirror contributions", zap.Int("rows", len(all)), zap.Error(err))
		}
	}

	return counts, nil
}

// bucketFile is one CSV opened for appending, with its size at open time.
type bucketFile struct {
	kind Kind
	path string
	f    *os.File
	size int64
}

func (s *Store) openBucket(kind Kind) (*bucketFile, error) {
	path := s.Path(kind)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &bucketFile{kind: kind, path: path, f: f, size: info.Size()}, nil
}

func (b *bucketFile) write(records []Record) error {
	w := csv.NewWriter(b.f)
	if b.size == 0 {
		if err := w.Write(Header(b.kind)); err != nil {
			return fmt.Errorf("failed to write header to %s: %w", b.path, err)
		}
	}
	for _, r := range records {
		r.Kind = b.kind
		if err := w.Write(Row(r)); err != nil {
			return fmt.Errorf("failed to append to %s: %w", b.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", b.path, err)
	}
	return b.f.Sync()
}

func (b *bucketFile) close() {
	_ = b.f.Close()
}

// rollback truncates every bucket back to its size at open time.
func (s *Store) rollback(buckets ...*bucketFile) {
	for _, b := range buckets {
		if err := b.f.Truncate(b.size); err != nil {
			s.logger.Error("failed to roll back partial append", zap.String("path", b.path), zap.Error(err))
		}
	}
}

// Records reads every persisted row of a bucket.
func (s *Store) Records(kind Kind) ([]Record, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return ReadFile(s.Path(kind), kind)
}
