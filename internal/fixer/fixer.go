// Package fixer turns previously reported mismatches into targeted
// column-level updates against the destination. Only the differing columns
// are ever written; missing-row records are reportable only and never
// auto-applied.
package fixer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"

	"github.com/johndauphine/drt/internal/config"
	"github.com/johndauphine/drt/internal/engine"
	"github.com/johndauphine/drt/internal/logging"
	"github.com/johndauphine/drt/internal/partition"
)

// ApplyError is an update execution failure. It is action-scoped: the run
// continues with the remaining fix actions.
type ApplyError struct {
	Key    string
	Column string
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("applying fix for key %s column %s: %v", e.Key, e.Column, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Options controls one apply run.
type Options struct {
	// DryRun renders the would-be statements without executing them.
	DryRun bool

	// SkipNulls excludes columns whose source value is null or empty
	// from the update set.
	SkipNulls bool

	// Partition restricts the run to one year/month.
	Partition *partition.Descriptor

	// Out receives rendered dry-run statements (defaults to stdout
	// upstream).
	Out io.Writer
}

// db is the slice of *sql.DB the applier needs.
type db interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Applier reads the persisted mismatch table and applies fixes.
type Applier struct {
	db      db
	dialect engine.Dialect

	destTable   string // qualified destination table
	outputTable string // qualified mismatch table
	destCols    config.ColumnSet

	pkCol    string // physical destination columns
	yearCol  string
	monthCol string
}

// New builds an Applier for the destination side.
func New(dbh db, dialect engine.Dialect, dest *config.Side, output config.Output, pk string, p config.Partitioning) *Applier {
	return &Applier{
		db:          dbh,
		dialect:     dialect,
		destTable:   engine.QualifyTable(dialect, dest.Schema, dest.Table),
		outputTable: engine.QualifyTable(dialect, output.Schema, output.Table),
		destCols:    dest.Columns,
		pkCol:       dest.Columns.MustPhysical(pk),
		yearCol:     dest.Columns.MustPhysical(p.YearColumn),
		monthCol:    dest.Columns.MustPhysical(p.MonthColumn),
	}
}

// PartitionSummary tallies one partition's apply run.
type PartitionSummary struct {
	Total        int            // mismatch records seen
	Updates      int            // update statements generated
	Writes       int64          // rows actually changed (0 on a repeat run)
	NullsSkipped int            // columns skipped under skip_nulls
	Columns      map[string]int // per-column update counts
	Errors       []*ApplyError
}

// Summary is the apply run outcome, keyed by partition label.
type Summary struct {
	Partitions map[string]*PartitionSummary
	MissingRaw int // missing-row records present but never auto-applied
	Unresolved int // type-mismatch columns the comparator could not resolve
	DryRun     bool
}

// Errored reports whether any fix action failed.
func (s *Summary) Errored() bool {
	for _, p := range s.Partitions {
		if len(p.Errors) > 0 {
			return true
		}
	}
	return false
}

// mismatchRecord is one scanned row of the mismatch table.
type mismatchRecord struct {
	Key    string
	Column string
	Source sql.NullString
	Year   string
	Month  string
}

// Run loads mismatch records and applies (or previews) the fixes.
func (a *Applier) Run(ctx context.Context, opts Options) (*Summary, error) {
	sum := &Summary{Partitions: make(map[string]*PartitionSummary), DryRun: opts.DryRun}

	if err := a.countUnapplied(ctx, sum); err != nil {
		return nil, err
	}

	recs, err := a.loadMismatches(ctx, opts.Partition)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		part := sum.partition(rec.Year, rec.Month)
		part.Total++

		if opts.SkipNulls && (!rec.Source.Valid || rec.Source.String == "") {
			part.NullsSkipped++
			continue
		}

		a.applyOne(ctx, opts, part, rec)
	}
	return sum, nil
}

// loadMismatches drains the mismatch records into memory before any update
// runs. Executing updates while the cursor is still open would block forever
// on a single-connection pool: the cursor holds the connection the update
// waits for.
func (a *Applier) loadMismatches(ctx context.Context, target *partition.Descriptor) ([]mismatchRecord, error) {
	query, args := a.selectMismatches(target)
	logging.DebugAt(logging.LevelMedium, "fetching mismatches: %s %v", query, args)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading mismatch table %s: %w", a.outputTable, err)
	}
	defer rows.Close()

	var recs []mismatchRecord
	for rows.Next() {
		var (
			rec     mismatchRecord
			yr, mon sql.NullString
		)
		if err := rows.Scan(&rec.Key, &rec.Column, &rec.Source, &yr, &mon); err != nil {
			return nil, fmt.Errorf("scanning mismatch record: %w", err)
		}
		rec.Year, rec.Month = yr.String, mon.String
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading mismatch records: %w", err)
	}
	return recs, nil
}

// applyOne renders or executes a single targeted update. The guard clause
// makes re-applies no-ops: a row whose column already equals the source
// value (or is already NULL for a NULL source) is not matched, so a second
// run produces zero writes.
func (a *Applier) applyOne(ctx context.Context, opts Options, part *PartitionSummary, rec mismatchRecord) {
	destCol := a.dialect.QuoteIdent(a.destCols.MustPhysical(rec.Column))

	var (
		update string
		args   []any
	)
	if rec.Source.Valid {
		update = fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND %s = %s AND %s = %s AND (%s <> %s OR %s IS NULL)",
			a.destTable,
			destCol, a.dialect.Placeholder(1),
			a.dialect.QuoteIdent(a.pkCol), a.dialect.Placeholder(2),
			a.dialect.QuoteIdent(a.yearCol), a.dialect.Placeholder(3),
			a.dialect.QuoteIdent(a.monthCol), a.dialect.Placeholder(4),
			destCol, a.dialect.Placeholder(5), destCol)
		args = []any{rec.Source.String, rec.Key, rec.Year, rec.Month, rec.Source.String}
	} else {
		// NULL source value (reachable with skip_nulls disabled): write a
		// real SQL NULL, never an empty string.
		update = fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = %s AND %s = %s AND %s = %s AND %s IS NOT NULL",
			a.destTable,
			destCol,
			a.dialect.QuoteIdent(a.pkCol), a.dialect.Placeholder(1),
			a.dialect.QuoteIdent(a.yearCol), a.dialect.Placeholder(2),
			a.dialect.QuoteIdent(a.monthCol), a.dialect.Placeholder(3),
			destCol)
		args = []any{rec.Key, rec.Year, rec.Month}
	}

	logging.Debug("prepared update: %s | %v", update, args)

	part.Updates++
	if part.Columns == nil {
		part.Columns = make(map[string]int)
	}
	part.Columns[rec.Column]++

	if opts.DryRun {
		if opts.Out != nil {
			fmt.Fprintf(opts.Out, "%s | %v\n", update, args)
		}
		return
	}

	res, err := a.db.ExecContext(ctx, update, args...)
	if err != nil {
		part.Errors = append(part.Errors, &ApplyError{Key: rec.Key, Column: rec.Column, Err: err})
		return
	}
	if n, err := res.RowsAffected(); err == nil {
		part.Writes += n
	}
}

func (a *Applier) selectMismatches(target *partition.Descriptor) (string, []any) {
	q := fmt.Sprintf("SELECT %s, %s, %s, %s, %s FROM %s WHERE %s = %s",
		a.dialect.QuoteIdent("primary_key"),
		a.dialect.QuoteIdent("column_name"),
		a.dialect.QuoteIdent("source_value"),
		a.dialect.QuoteIdent("part_year"),
		a.dialect.QuoteIdent("part_month"),
		a.outputTable,
		a.dialect.QuoteIdent("mismatch_type"), a.dialect.Placeholder(1))
	args := []any{"mismatch"}
	if target != nil {
		q += fmt.Sprintf(" AND %s = %s AND %s = %s",
			a.dialect.QuoteIdent("part_year"), a.dialect.Placeholder(2),
			a.dialect.QuoteIdent("part_month"), a.dialect.Placeholder(3))
		args = append(args, target.Year, target.Month)
	}
	q += fmt.Sprintf(" ORDER BY %s, %s, %s",
		a.dialect.QuoteIdent("part_year"),
		a.dialect.QuoteIdent("part_month"),
		a.dialect.QuoteIdent("primary_key"))
	return q, args
}

// countUnapplied tallies the records the applier never touches (missing
// rows and unresolved type-mismatch columns) so the summary can state they
// were left alone.
func (a *Applier) countUnapplied(ctx context.Context, sum *Summary) error {
	q := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s <> %s GROUP BY %s",
		a.dialect.QuoteIdent("mismatch_type"),
		a.outputTable,
		a.dialect.QuoteIdent("mismatch_type"), a.dialect.Placeholder(1),
		a.dialect.QuoteIdent("mismatch_type"))
	rows, err := a.db.QueryContext(ctx, q, "mismatch")
	if err != nil {
		return fmt.Errorf("counting unapplied records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return err
		}
		if typ == "unresolved" {
			sum.Unresolved += n
		} else {
			sum.MissingRaw += n
		}
	}
	return rows.Err()
}

func (s *Summary) partition(yr, mon string) *PartitionSummary {
	key := yr + "-" + mon
	p, ok := s.Partitions[key]
	if !ok {
		p = &PartitionSummary{}
		s.Partitions[key] = p
	}
	return p
}

// Render writes the per-partition apply summary.
func (s *Summary) Render(w io.Writer) {
	keys := make([]string, 0, len(s.Partitions))
	for k := range s.Partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := s.Partitions[key]
		fmt.Fprintf(w, "Partition: %s\n", key)
		fmt.Fprintf(w, "  Total mismatches found: %d\n", p.Total)
		fmt.Fprintf(w, "  Updates generated: %d\n", p.Updates)
		if !s.DryRun {
			fmt.Fprintf(w, "  Rows changed: %d\n", p.Writes)
		}
		fmt.Fprintf(w, "  Nulls skipped: %d\n", p.NullsSkipped)

		cols := make([]string, 0, len(p.Columns))
		for c := range p.Columns {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			fmt.Fprintf(w, "  %s: %d updates\n", c, p.Columns[c])
		}
		for _, e := range p.Errors {
			fmt.Fprintf(w, "  error: %v\n", e)
		}
	}
	if s.MissingRaw > 0 {
		fmt.Fprintf(w, "Missing-row records not applied: %d (require an explicit policy decision)\n", s.MissingRaw)
	}
	if s.Unresolved > 0 {
		fmt.Fprintf(w, "Unresolved type-mismatch records not applied: %d\n", s.Unresolved)
	}
	if s.DryRun {
		fmt.Fprintln(w, "Dry run: no updates were executed.")
	}
}
