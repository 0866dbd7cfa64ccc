package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/engine"
	"github.com/johndauphine/drt/internal/logging"
	"github.com/johndauphine/drt/internal/partition"
)

const defaultBatchSize = 500

// execer is the slice of *sql.DB the sink needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TableSink batches records into inserts against the destination-side
// mismatch table.
type TableSink struct {
	db      execer
	dialect engine.Dialect
	table   string // qualified

	insertSQL string

	mu        sync.Mutex
	batch     []Record
	batchSize int
}

// NewTableSink creates a sink writing to schema.table on the destination.
func NewTableSink(db execer, dialect engine.Dialect, schema, table string) *TableSink {
	qualified := engine.QualifyTable(dialect, schema, table)
	cols := []string{"primary_key", "mismatch_type", "column_name", "source_value", "dest_value", "part_year", "part_month", "part_week"}
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dialect.QuoteIdent(c)
		placeholders[i] = dialect.Placeholder(i + 1)
	}
	return &TableSink{
		db:      db,
		dialect: dialect,
		table:   qualified,
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			qualified, strings.Join(quoted, ", "), strings.Join(placeholders, ", ")),
		batchSize: defaultBatchSize,
	}
}

// Init creates the mismatch table when absent and, under the truncate
// retention policy, clears prior records for the partitions about to run.
func (t *TableSink) Init(ctx context.Context, parts []partition.Descriptor, truncate bool) error {
	if _, err := t.db.ExecContext(ctx, t.dialect.MismatchTableDDL(t.table)); err != nil {
		return fmt.Errorf("creating mismatch table %s: %w", t.table, err)
	}
	if !truncate {
		return nil
	}
	months := make(map[[2]string]struct{})
	for _, d := range parts {
		if !d.IsZero() {
			months[[2]string{d.Year, d.Month}] = struct{}{}
		}
	}
	for m := range months {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
			t.table,
			t.dialect.QuoteIdent("part_year"), t.dialect.Placeholder(1),
			t.dialect.QuoteIdent("part_month"), t.dialect.Placeholder(2))
		if _, err := t.db.ExecContext(ctx, query, m[0], m[1]); err != nil {
			return fmt.Errorf("clearing mismatch records for %s-%s: %w", m[0], m[1], err)
		}
	}
	return nil
}

// Report appends records to the batch, flushing when it fills.
func (t *TableSink) Report(ctx context.Context, recs []Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batch = append(t.batch, recs...)
	if len(t.batch) >= t.batchSize {
		return t.flushLocked(ctx)
	}
	return nil
}

// Close flushes the remaining batch.
func (t *TableSink) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

func (t *TableSink) flushLocked(ctx context.Context) error {
	if len(t.batch) == 0 {
		return nil
	}
	logging.DebugAt(logging.LevelMedium, "flushing %d mismatch records to %s", len(t.batch), t.table)
	for _, r := range t.batch {
		args := []any{
			r.PrimaryKey,
			r.Type,
			nullable(r.Column),
			valueArg(r.SourceValue),
			valueArg(r.DestValue),
			nullable(r.Year),
			nullable(r.Month),
			nullable(r.Week),
		}
		if _, err := t.db.ExecContext(ctx, t.insertSQL, args...); err != nil {
			return fmt.Errorf("inserting mismatch record for key %s: %w", r.PrimaryKey, err)
		}
	}
	t.batch = t.batch[:0]
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// valueArg stores a value in its canonical text form; nulls stay NULL.
func valueArg(v any) any {
	if v == nil {
		return nil
	}
	return compare.CanonicalString(v)
}
