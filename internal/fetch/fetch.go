// Package fetch issues the bounded partition queries and returns rows keyed
// by primary key.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/config"
	"github.com/johndauphine/drt/internal/engine"
	"github.com/johndauphine/drt/internal/logging"
	"github.com/johndauphine/drt/internal/partition"
)

// Options bounds one fetch call.
type Options struct {
	// Limit caps the number of rows returned (0 = no cap). Used by
	// constrained test runs; results under a limit are partial.
	Limit int

	// Records restricts the fetch to specific primary-key values.
	Records []string

	// WithHash computes a row hash for every fetched row.
	WithHash bool
}

// Fetcher fetches one side's rows for a partition.
type Fetcher struct {
	pool    *engine.Pool
	side    compare.SideName
	schema  string
	table   string
	columns config.ColumnSet
	pk      string

	yearCol  string
	monthCol string
	weekCol  string
}

// New builds a Fetcher for one side.
func New(pool *engine.Pool, side compare.SideName, s *config.Side, pk string, p config.Partitioning) *Fetcher {
	return &Fetcher{
		pool:     pool,
		side:     side,
		schema:   s.Schema,
		table:    s.Table,
		columns:  s.Columns,
		pk:       pk,
		yearCol:  p.YearColumn,
		monthCol: p.MonthColumn,
		weekCol:  p.WeekColumn,
	}
}

// Fetch runs the partition query and returns rows keyed by primary key.
// Failures are wrapped as *engine.ConnectionError scoped to this side.
func (f *Fetcher) Fetch(ctx context.Context, d partition.Descriptor, opts Options) (map[string]compare.Row, error) {
	query, args := f.buildQuery(d, opts)
	logging.DebugAt(logging.LevelMedium, "%s fetch %s: %s %v", f.side, d.Label(), query, args)

	rows, err := f.pool.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &engine.ConnectionError{Side: string(f.side), Engine: f.pool.Dialect.Name(), Err: fmt.Errorf("partition %s: %w", d.Label(), err)}
	}
	defer rows.Close()

	logical := f.columns.Names()
	result := make(map[string]compare.Row)
	for rows.Next() {
		dest := make([]any, len(logical))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &engine.ConnectionError{Side: string(f.side), Engine: f.pool.Dialect.Name(), Err: fmt.Errorf("scanning partition %s: %w", d.Label(), err)}
		}

		values := make(map[string]any, len(logical))
		for i, name := range logical {
			values[name] = normalizeValue(*dest[i].(*any))
		}

		row := compare.Row{
			Key:    compare.CanonicalString(values[f.pk]),
			Side:   f.side,
			Values: values,
		}
		if opts.WithHash {
			row.Hash = compare.RowHash(logical, values)
		}
		result[row.Key] = row
	}
	if err := rows.Err(); err != nil {
		return nil, &engine.ConnectionError{Side: string(f.side), Engine: f.pool.Dialect.Name(), Err: fmt.Errorf("reading partition %s: %w", d.Label(), err)}
	}

	logging.DebugAt(logging.LevelLow, "%s fetch %s: %d rows", f.side, d.Label(), len(result))
	return result, nil
}

// buildQuery renders the bounded partition SELECT for this side's dialect.
func (f *Fetcher) buildQuery(d partition.Descriptor, opts Options) (string, []any) {
	dialect := f.pool.Dialect

	logical := f.columns.Names()
	selectCols := make([]string, len(logical))
	for i, name := range logical {
		selectCols[i] = dialect.QuoteIdent(f.columns.MustPhysical(name))
	}

	var (
		conds []string
		args  []any
		n     int
	)
	next := func() string {
		n++
		return dialect.Placeholder(n)
	}

	if !d.IsZero() {
		conds = append(conds, dialect.QuoteIdent(f.columns.MustPhysical(f.yearCol))+" = "+next())
		args = append(args, d.Year)
		conds = append(conds, dialect.QuoteIdent(f.columns.MustPhysical(f.monthCol))+" = "+next())
		args = append(args, d.Month)
		if d.Week != "" {
			conds = append(conds, dialect.QuoteIdent(f.columns.MustPhysical(f.weekCol))+" = "+next())
			args = append(args, d.Week)
		}
	}
	if len(opts.Records) > 0 {
		placeholders := make([]string, len(opts.Records))
		for i, rec := range opts.Records {
			placeholders[i] = next()
			args = append(args, rec)
		}
		conds = append(conds, dialect.QuoteIdent(f.columns.MustPhysical(f.pk))+" IN ("+strings.Join(placeholders, ", ")+")")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectCols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(engine.QualifyTable(dialect, f.schema, f.table))
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(dialect.QuoteIdent(f.columns.MustPhysical(f.pk)))
	if opts.Limit > 0 {
		sb.WriteString(" ")
		sb.WriteString(dialect.LimitClause(opts.Limit))
	}
	return sb.String(), args
}

// normalizeValue unwraps driver-specific raw forms. []byte columns become
// strings so values survive the row's lifetime (drivers may reuse buffers).
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
