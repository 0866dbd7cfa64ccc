package compare

import "sort"

// Compare compares the source and destination rows of one partition and
// returns one outcome per primary-key value present on either side, in
// ascending key order.
//
// With AggressiveCleanup enabled the input maps are consumed: each side's
// row is deleted as soon as it has been folded into an outcome.
func Compare(src, dst map[string]Row, opts Options) []Outcome {
	keys := make([]string, 0, len(src)+len(dst))
	seen := make(map[string]struct{}, len(src)+len(dst))
	for k := range src {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range dst {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	outcomes := make([]Outcome, 0, len(keys))
	for _, key := range keys {
		srcRow, haveSrc := src[key]
		dstRow, haveDst := dst[key]
		outcomes = append(outcomes, compareOne(key, srcRow, haveSrc, dstRow, haveDst, opts))
		if opts.AggressiveCleanup {
			delete(src, key)
			delete(dst, key)
		}
	}
	return outcomes
}

// CompareRow compares a single primary-key value.
func CompareRow(key string, srcRow, dstRow *Row, opts Options) Outcome {
	var s, d Row
	if srcRow != nil {
		s = *srcRow
	}
	if dstRow != nil {
		d = *dstRow
	}
	return compareOne(key, s, srcRow != nil, d, dstRow != nil, opts)
}

func compareOne(key string, srcRow Row, haveSrc bool, dstRow Row, haveDst bool, opts Options) Outcome {
	switch {
	case !haveSrc:
		return Outcome{Key: key, Kind: MissingInSource}
	case !haveDst:
		return Outcome{Key: key, Kind: MissingInDestination}
	}

	if opts.UseRowHash && srcRow.Hash != "" && dstRow.Hash != "" && srcRow.Hash == dstRow.Hash {
		return Outcome{Key: key, Kind: Match}
	}

	var diffs []ColumnDiff
	for _, col := range opts.Columns {
		sv := srcRow.Values[col]
		dv := dstRow.Values[col]

		if IsNull(sv) || IsNull(dv) {
			if IsNull(sv) && IsNull(dv) {
				continue
			}
			if !opts.IncludeNulls {
				continue
			}
			diffs = append(diffs, ColumnDiff{Column: col, SourceValue: sv, DestValue: dv})
			continue
		}

		eq, ok := canonicalize(sv).equal(canonicalize(dv))
		if !ok {
			diffs = append(diffs, ColumnDiff{
				Column:      col,
				SourceValue: sv,
				DestValue:   dv,
				Err:         &TypeMismatchError{Column: col, SourceValue: sv, DestValue: dv},
			})
			continue
		}
		if !eq {
			diffs = append(diffs, ColumnDiff{Column: col, SourceValue: sv, DestValue: dv})
		}
	}

	if len(diffs) == 0 {
		return Outcome{Key: key, Kind: Match}
	}
	return Outcome{Key: key, Kind: ValueMismatch, Diffs: diffs}
}
