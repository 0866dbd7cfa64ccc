// Package compare implements the row comparison algorithm: null-aware,
// type-coercing column equality with an optional row-hash fast path.
package compare

import "fmt"

// SideName identifies which database a row came from.
type SideName string

const (
	SideSource      SideName = "source"
	SideDestination SideName = "destination"
)

// Row is one fetched row, keyed by primary key and holding values under
// logical column names. Rows are never mutated after creation.
type Row struct {
	Key    string
	Side   SideName
	Values map[string]any
	Hash   string // row hash, empty when hashing is disabled
}

// Kind classifies a comparison outcome.
type Kind int

const (
	Match Kind = iota
	MissingInSource
	MissingInDestination
	ValueMismatch
)

func (k Kind) String() string {
	switch k {
	case Match:
		return "match"
	case MissingInSource:
		return "missing_in_source"
	case MissingInDestination:
		return "missing_in_dest"
	case ValueMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// ColumnDiff is one differing column within a ValueMismatch. Err is set when
// the values could not be coerced into a common domain; such columns are
// unresolved rather than confirmed different.
type ColumnDiff struct {
	Column      string
	SourceValue any
	DestValue   any
	Err         error
}

// Outcome is the result of comparing one primary-key value.
type Outcome struct {
	Key   string
	Kind  Kind
	Diffs []ColumnDiff // populated only for ValueMismatch
}

// TypeMismatchError marks a column whose source and destination values have
// no defined coercion. It is column-scoped: the rest of the row's comparison
// proceeds normally.
type TypeMismatchError struct {
	Column      string
	SourceValue any
	DestValue   any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch on column %q: cannot compare %T with %T",
		e.Column, e.SourceValue, e.DestValue)
}

// Options controls a comparison pass.
type Options struct {
	// Columns is the ordered list of logical columns to compare.
	Columns []string

	// UseRowHash enables the hash fast path: equal hashes on both sides
	// yield Match without touching individual columns. A hash mismatch
	// only falls back to full comparison, never signals a mismatch by
	// itself.
	UseRowHash bool

	// IncludeNulls counts a null on exactly one side as a difference.
	// When false, any comparison involving a null is skipped for that
	// column.
	IncludeNulls bool

	// AggressiveCleanup releases each side's row as soon as it has been
	// folded into an outcome instead of retaining the full partition.
	AggressiveCleanup bool
}
