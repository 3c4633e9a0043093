// Package db records export runs in an optional PostgreSQL ledger.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the ledger table. It is safe to apply repeatedly.
const Schema = `CREATE TABLE IF NOT EXISTS export_runs (
	run_id      UUID PRIMARY KEY,
	domain      TEXT NOT NULL,
	case_dir    TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	exit_code   INTEGER,
	rows        BIGINT,
	state       TEXT NOT NULL
)`

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the export_runs table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create export_runs: %w", err)
	}
	return nil
}

// RecordStart inserts the ledger row for a run that has just created its
// case folder. Recording the same run twice keeps the first row.
func (db *DB) RecordStart(ctx context.Context, start RunStart) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO export_runs (run_id, domain, case_dir, started_at, state)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id) DO NOTHING`,
		start.RunID, start.Domain, start.CaseDir, start.StartedAt, start.State,
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordFinish stores the outcome of a finalized run.
func (db *DB) RecordFinish(ctx context.Context, finish RunFinish) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE export_runs
		 SET finished_at = $2, exit_code = $3, rows = $4, state = $5
		 WHERE run_id = $1`,
		finish.RunID, finish.FinishedAt, finish.ExitCode, finish.Rows, finish.State,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to record run finish: run %s not in ledger", finish.RunID)
	}
	return nil
}

const runColumns = `run_id, domain, case_dir, started_at, finished_at, exit_code, rows, state`

// GetRun retrieves a run by ID. A missing run returns nil, nil.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*ExportRun, error) {
	var run ExportRun
	err := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM export_runs WHERE run_id = $1`,
		runID,
	).Scan(run.scanTargets()...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs for a domain, newest first. An
// empty domain lists every domain.
func (db *DB) ListRuns(ctx context.Context, domain string, limit int) ([]ExportRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM export_runs
		 WHERE $1 = '' OR domain = $1
		 ORDER BY started_at DESC LIMIT $2`,
		domain, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []ExportRun
	for rows.Next() {
		var run ExportRun
		if err := rows.Scan(run.scanTargets()...); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunStart is the ledger row written when a case folder is created.
type RunStart struct {
	RunID     uuid.UUID
	Domain    string
	CaseDir   string
	StartedAt time.Time
	State     string
}

// RunFinish is the outcome written after finalization.
type RunFinish struct {
	RunID      uuid.UUID
	FinishedAt time.Time
	ExitCode   int
	Rows       int64
	State      string
}

// ExportRun is one ledger row.
type ExportRun struct {
	RunID      uuid.UUID  `json:"run_id"`
	Domain     string     `json:"domain"`
	CaseDir    string     `json:"case_dir"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Rows       *int64     `json:"rows,omitempty"`
	State      string     `json:"state"`
}

// Finished reports whether the run's outcome has been recorded.
func (r *ExportRun) Finished() bool {
	return r.FinishedAt != nil
}

func (r *ExportRun) scanTargets() []any {
	return []any{&r.RunID, &r.Domain, &r.CaseDir, &r.StartedAt, &r.FinishedAt, &r.ExitCode, &r.Rows, &r.State}
}
