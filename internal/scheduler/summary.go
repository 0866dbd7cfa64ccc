package scheduler

import (
	"fmt"
	"strings"
)

// Summary aggregates a run's per-partition results. A discrepancy list is
// never presented without it.
type Summary struct {
	Partitions    int
	FailedParts   int
	PartialParts  int
	Matched       int
	Mismatched    int
	MissingSource int
	MissingDest   int

	Failures []string // "<partition label>: <error>"
}

// Add folds one result into the summary.
func (s *Summary) Add(r Result) {
	s.Partitions++
	if r.Partial {
		s.PartialParts++
	}
	if r.Err != nil {
		s.FailedParts++
		s.Failures = append(s.Failures, fmt.Sprintf("%s: %v", r.Descriptor.Label(), r.Err))
		return
	}
	s.Matched += r.Matched
	s.Mismatched += r.Mismatched
	s.MissingSource += r.MissingSource
	s.MissingDest += r.MissingDest
}

// Failed reports whether any partition errored.
func (s *Summary) Failed() bool {
	return s.FailedParts > 0
}

// String renders the human-readable run summary.
func (s *Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Partitions: %d (%d failed", s.Partitions, s.FailedParts)
	if s.PartialParts > 0 {
		fmt.Fprintf(&sb, ", %d partial", s.PartialParts)
	}
	sb.WriteString(")\n")
	fmt.Fprintf(&sb, "Matched: %d\n", s.Matched)
	fmt.Fprintf(&sb, "Mismatched: %d\n", s.Mismatched)
	fmt.Fprintf(&sb, "Missing in source: %d\n", s.MissingSource)
	fmt.Fprintf(&sb, "Missing in destination: %d\n", s.MissingDest)
	for _, f := range s.Failures {
		fmt.Fprintf(&sb, "Failed partition %s\n", f)
	}
	return sb.String()
}
