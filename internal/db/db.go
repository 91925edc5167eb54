// Package db provides an optional PostgreSQL mirror of persisted contributions
// and an audit trail of contribution fetch runs.
package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/contributions"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// InsertContributions copies a batch of rows into the contributions table.
func (db *DB) InsertContributions(ctx context.Context, records []contributions.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.CandidateID,
			r.CandidateName,
			string(r.Kind),
			r.ContributorName,
			r.Amount,
			r.Date,
			r.City,
			r.State,
			nullIfEmpty(r.Employer),
			nullIfEmpty(r.Occupation),
			nullIfEmpty(r.CommitteeID),
		})
	}

	n, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"contributions"},
		[]string{"candidate_id", "candidate_name", "kind", "contributor_name", "amount", "receipt_date", "city", "state", "employer", "occupation", "committee_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contributions: %w", err)
	}
	db.logger.Debug("mirrored contributions", zap.Int64("rows", n))
	return nil
}

// CountContributions returns the number of mirrored rows for a candidate.
func (db *DB) CountContributions(ctx context.Context, candidateID string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contributions WHERE candidate_id = $1`,
		candidateID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contributions: %w", err)
	}
	return n, nil
}

// CreateRun records the start of a contribution fetch and returns its ID
func (db *DB) CreateRun(ctx context.Context, candidateID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO fetch_runs (candidate_id, state)
		 VALUES ($1, 'running')
		 RETURNING id`,
		candidateID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun stores the terminal state of a contribution fetch
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, state string, counts contributions.Counts) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE fetch_runs
		 SET state = $1, individuals = $2, pacs = $3, completed_at = NOW()
		 WHERE id = $4`,
		state, counts.Individuals, counts.PACs, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RecordRun stores a finished fetch as a single completed run.
func (db *DB) RecordRun(ctx context.Context, candidateID string, state contributions.State, counts contributions.Counts) error {
	id, err := db.CreateRun(ctx, candidateID)
	if err != nil {
		return err
	}
	return db.CompleteRun(ctx, id, string(state), counts)
}

// GetRun retrieves a fetch run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, candidate_id, state, individuals, pacs, created_at, completed_at
		 FROM fetch_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.CandidateID, &run.State, &run.Individuals, &run.PACs, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves recent fetch runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, candidate_id, state, individuals, pacs, created_at, completed_at
		 FROM fetch_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.CandidateID, &run.State, &run.Individuals, &run.PACs, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
