// Package report persists or streams mismatch records. Sinks are append
// only: concurrent partitions report into a serialized batch, and a flush
// never replaces earlier batches.
package report

import (
	"context"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/partition"
)

// Record is the persisted/streamed form of a non-match outcome. Partition
// identity and primary key are always preserved.
type Record struct {
	Year        string
	Month       string
	Week        string
	PrimaryKey  string
	Type        string // mismatch, unresolved, missing_in_source, missing_in_dest
	Column      string // empty for missing rows
	SourceValue any
	DestValue   any
}

// Sink receives mismatch records. Implementations serialize concurrent
// calls.
type Sink interface {
	Report(ctx context.Context, recs []Record) error
	Close(ctx context.Context) error
}

// FromOutcome flattens a non-match outcome into records: one per differing
// column for a value mismatch, a single record for a missing row.
func FromOutcome(d partition.Descriptor, o compare.Outcome) []Record {
	base := Record{
		Year:       d.Year,
		Month:      d.Month,
		Week:       d.Week,
		PrimaryKey: o.Key,
		Type:       o.Kind.String(),
	}
	switch o.Kind {
	case compare.MissingInSource, compare.MissingInDestination:
		return []Record{base}
	case compare.ValueMismatch:
		recs := make([]Record, 0, len(o.Diffs))
		for _, diff := range o.Diffs {
			r := base
			r.Column = diff.Column
			r.SourceValue = diff.SourceValue
			r.DestValue = diff.DestValue
			if diff.Err != nil {
				// The comparator could not establish equality for this
				// column; record it, but keep it out of the applier's
				// reach.
				r.Type = "unresolved"
			}
			recs = append(recs, r)
		}
		return recs
	default:
		return nil
	}
}
