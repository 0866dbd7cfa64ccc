// Package state persists run history in a local SQLite database: one row
// per run plus one row per partition result. It backs the history command
// and the exit summary; losing it never affects correctness of a run.
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/drt/internal/scheduler"
	_ "modernc.org/sqlite"
)

// Store is the run-history backend.
type Store struct {
	db *sql.DB
}

// Run is one recorded reconciliation or apply run.
type Run struct {
	ID         string
	Mode       string // reconcile or apply-fixes
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // running, success, failed
	Error      string

	Partitions    int
	FailedParts   int
	Matched       int
	Mismatched    int
	MissingSource int
	MissingDest   int
}

// PartitionRow is one partition's recorded result.
type PartitionRow struct {
	Label         string
	Status        string // success, failed
	Partial       bool
	SourceRows    int
	DestRows      int
	Matched       int
	Mismatched    int
	MissingSource int
	MissingDest   int
	Error         string
	ElapsedMS     int64
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status TEXT NOT NULL,
	error TEXT,
	partitions INTEGER DEFAULT 0,
	failed_parts INTEGER DEFAULT 0,
	matched INTEGER DEFAULT 0,
	mismatched INTEGER DEFAULT 0,
	missing_source INTEGER DEFAULT 0,
	missing_dest INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS run_partitions (
	run_id TEXT NOT NULL REFERENCES runs(id),
	label TEXT NOT NULL,
	status TEXT NOT NULL,
	partial INTEGER DEFAULT 0,
	source_rows INTEGER DEFAULT 0,
	dest_rows INTEGER DEFAULT 0,
	matched INTEGER DEFAULT 0,
	mismatched INTEGER DEFAULT 0,
	missing_source INTEGER DEFAULT 0,
	missing_dest INTEGER DEFAULT 0,
	error TEXT,
	elapsed_ms INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_run_partitions_run ON run_partitions(run_id);
`

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// SQLite allows one writer; the store serializes through this.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// CreateRun records the start of a run.
func (s *Store) CreateRun(id, mode string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, mode, started_at, status) VALUES (?, ?, ?, 'running')`,
		id, mode, time.Now().UTC())
	return err
}

// SavePartition records one partition result for a run.
func (s *Store) SavePartition(runID string, r scheduler.Result) error {
	status := "success"
	errMsg := ""
	if r.Err != nil {
		status = "failed"
		errMsg = r.Err.Error()
	}
	_, err := s.db.Exec(
		`INSERT INTO run_partitions
		 (run_id, label, status, partial, source_rows, dest_rows, matched, mismatched, missing_source, missing_dest, error, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Descriptor.Label(), status, boolInt(r.Partial),
		r.SourceRows, r.DestRows, r.Matched, r.Mismatched,
		r.MissingSource, r.MissingDest, errMsg, r.Elapsed.Milliseconds())
	return err
}

// CompleteRun finalizes a run with its summary.
func (s *Store) CompleteRun(id, status, errMsg string, sum *scheduler.Summary) error {
	var (
		parts, failed, matched, mismatched, missSrc, missDst int
	)
	if sum != nil {
		parts = sum.Partitions
		failed = sum.FailedParts
		matched = sum.Matched
		mismatched = sum.Mismatched
		missSrc = sum.MissingSource
		missDst = sum.MissingDest
	}
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, error = ?,
		 partitions = ?, failed_parts = ?, matched = ?, mismatched = ?,
		 missing_source = ?, missing_dest = ? WHERE id = ?`,
		time.Now().UTC(), status, errMsg,
		parts, failed, matched, mismatched, missSrc, missDst, id)
	return err
}

// Runs lists all recorded runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, mode, started_at, finished_at, status, COALESCE(error, ''),
		 partitions, failed_parts, matched, mismatched, missing_source, missing_dest
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Mode, &r.StartedAt, &finished, &r.Status, &r.Error,
			&r.Partitions, &r.FailedParts, &r.Matched, &r.Mismatched,
			&r.MissingSource, &r.MissingDest); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunDetails returns one run and its partition rows.
func (s *Store) RunDetails(id string) (*Run, []PartitionRow, error) {
	runs, err := s.Runs()
	if err != nil {
		return nil, nil, err
	}
	var run *Run
	for i := range runs {
		if runs[i].ID == id {
			run = &runs[i]
			break
		}
	}
	if run == nil {
		return nil, nil, fmt.Errorf("run %s not found", id)
	}

	rows, err := s.db.Query(
		`SELECT label, status, partial, source_rows, dest_rows, matched, mismatched,
		 missing_source, missing_dest, COALESCE(error, ''), elapsed_ms
		 FROM run_partitions WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var parts []PartitionRow
	for rows.Next() {
		var p PartitionRow
		var partial int
		if err := rows.Scan(&p.Label, &p.Status, &partial, &p.SourceRows, &p.DestRows,
			&p.Matched, &p.Mismatched, &p.MissingSource, &p.MissingDest,
			&p.Error, &p.ElapsedMS); err != nil {
			return nil, nil, err
		}
		p.Partial = partial != 0
		parts = append(parts, p)
	}
	return run, parts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
