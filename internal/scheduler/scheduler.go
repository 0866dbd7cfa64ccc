// Package scheduler orchestrates fetch-and-compare across partitions under
// a bounded worker pool. Weeks of the same month form a strict sequential
// chain: the fetch for week k+1 starts only after week k's fetches have
// completed. Different months proceed concurrently up to the worker bound.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/fetch"
	"github.com/johndauphine/drt/internal/logging"
	"github.com/johndauphine/drt/internal/partition"
)

// Fetcher is the per-side fetch dependency. Satisfied by *fetch.Fetcher;
// tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, d partition.Descriptor, opts fetch.Options) (map[string]compare.Row, error)
}

// Policy is the concurrency policy resolved once at scheduling start.
type Policy struct {
	// Parallel enables the worker pool; otherwise partitions run one at
	// a time.
	Parallel bool

	// Workers bounds concurrent partitions in parallel mode.
	Workers int

	// Mode is "batch" (one comparison pass per partition) or "row"
	// (a partition's key space is sharded across the pool workers).
	Mode string

	// Limit caps fetched rows per partition per side; limited results
	// are flagged partial.
	Limit int

	// Records restricts the run to specific primary-key values and
	// bypasses partitioning.
	Records []string

	// FetchTimeout bounds each per-side fetch (0 = disabled).
	FetchTimeout time.Duration
}

func (p Policy) workers() int {
	if !p.Parallel || p.Workers < 1 {
		return 1
	}
	return p.Workers
}

// Result is one partition's reconciliation outcome.
type Result struct {
	Descriptor partition.Descriptor
	Outcomes   []compare.Outcome
	Partial    bool
	Err        error
	Elapsed    time.Duration

	SourceRows int
	DestRows   int

	Matched       int
	Mismatched    int
	MissingSource int
	MissingDest   int
}

func (r *Result) tally() {
	for _, o := range r.Outcomes {
		switch o.Kind {
		case compare.Match:
			r.Matched++
		case compare.ValueMismatch:
			r.Mismatched++
		case compare.MissingInSource:
			r.MissingSource++
		case compare.MissingInDestination:
			r.MissingDest++
		}
	}
}

// Scheduler runs the fetch/compare phase.
type Scheduler struct {
	source  Fetcher
	dest    Fetcher
	cmpOpts compare.Options
	policy  Policy
}

// New creates a Scheduler.
func New(source, dest Fetcher, cmpOpts compare.Options, policy Policy) *Scheduler {
	return &Scheduler{source: source, dest: dest, cmpOpts: cmpOpts, policy: policy}
}

// Run streams one Result per partition. A fetch failure is reported against
// its partition and does not abort sibling partitions. The channel closes
// when all partitions have completed.
func (s *Scheduler) Run(ctx context.Context, parts []partition.Descriptor) <-chan Result {
	if len(s.policy.Records) > 0 {
		// Single-record mode bypasses partitioning: one degenerate
		// unfiltered partition restricted to the requested keys.
		parts = []partition.Descriptor{{}}
	}

	results := make(chan Result, len(parts))
	go func() {
		defer close(results)

		workers := s.policy.workers()
		logging.DebugAt(logging.LevelLow, "scheduling %d partitions with %d workers (mode=%s)", len(parts), workers, s.policy.Mode)

		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup

		// Weeks of one month chain through completion gates keyed by
		// year-month; each gate closes when that week's fetches are
		// done.
		lastGate := make(map[string]chan struct{})
		for _, d := range parts {
			waitGate := lastGate[d.MonthKey()]
			doneGate := make(chan struct{})
			lastGate[d.MonthKey()] = doneGate

			wg.Add(1)
			go func(d partition.Descriptor, waitGate, doneGate chan struct{}) {
				defer wg.Done()
				results <- s.runPartition(ctx, d, waitGate, doneGate, sem)
			}(d, waitGate, doneGate)
		}
		wg.Wait()
	}()
	return results
}

// runPartition waits for its month-chain predecessor, takes a worker slot,
// fetches both sides concurrently, releases the chain gate, and compares.
func (s *Scheduler) runPartition(ctx context.Context, d partition.Descriptor, waitGate, doneGate chan struct{}, sem chan struct{}) Result {
	// The gate must release no matter how this partition ends, or the
	// rest of the month's chain would stall.
	var gateOnce sync.Once
	releaseGate := func() { gateOnce.Do(func() { close(doneGate) }) }
	defer releaseGate()

	res := Result{Descriptor: d, Partial: s.policy.Limit > 0}

	// Suspend until the previous week's fetch completes. This happens
	// before taking a worker slot so a blocked chain never starves the
	// pool.
	if waitGate != nil {
		select {
		case <-waitGate:
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		res.Err = ctx.Err()
		return res
	}
	defer func() { <-sem }()

	start := time.Now()
	srcRows, dstRows, err := s.fetchBoth(ctx, d)
	releaseGate()

	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		logging.Error("partition %s: %v", d.Label(), err)
		return res
	}
	res.SourceRows = len(srcRows)
	res.DestRows = len(dstRows)

	res.Outcomes = s.compareRows(srcRows, dstRows)
	res.tally()
	res.Elapsed = time.Since(start)
	logging.DebugAt(logging.LevelLow, "partition %s: %d matched, %d mismatched, %d missing in source, %d missing in dest (%s)",
		d.Label(), res.Matched, res.Mismatched, res.MissingSource, res.MissingDest, res.Elapsed.Round(time.Millisecond))
	return res
}

// fetchBoth runs the two per-partition fetches concurrently. The comparison
// barrier is the WaitGroup: compare never starts before both complete.
func (s *Scheduler) fetchBoth(ctx context.Context, d partition.Descriptor) (src, dst map[string]compare.Row, err error) {
	opts := fetch.Options{
		Limit:    s.policy.Limit,
		Records:  s.policy.Records,
		WithHash: s.cmpOpts.UseRowHash,
	}

	var (
		wg     sync.WaitGroup
		srcErr error
		dstErr error
	)
	fetchSide := func(f Fetcher, out *map[string]compare.Row, errOut *error) {
		defer wg.Done()
		fctx := ctx
		if s.policy.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, s.policy.FetchTimeout)
			defer cancel()
		}
		*out, *errOut = f.Fetch(fctx, d, opts)
	}

	wg.Add(2)
	go fetchSide(s.source, &src, &srcErr)
	go fetchSide(s.dest, &dst, &dstErr)
	wg.Wait()

	return src, dst, errors.Join(srcErr, dstErr)
}

// compareRows compares a fetched partition, sharding the key space across
// workers in row mode.
func (s *Scheduler) compareRows(src, dst map[string]compare.Row) []compare.Outcome {
	workers := s.policy.workers()
	if s.policy.Mode != "row" || workers <= 1 {
		return compare.Compare(src, dst, s.cmpOpts)
	}

	keys := unionKeys(src, dst)
	chunks := splitKeys(keys, workers)

	outcomes := make([][]compare.Outcome, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []string) {
			defer wg.Done()
			part := make([]compare.Outcome, 0, len(chunk))
			for _, key := range chunk {
				var srcRow, dstRow *compare.Row
				if r, ok := src[key]; ok {
					srcRow = &r
				}
				if r, ok := dst[key]; ok {
					dstRow = &r
				}
				part = append(part, compare.CompareRow(key, srcRow, dstRow, s.cmpOpts))
			}
			outcomes[i] = part
		}(i, chunk)
	}
	wg.Wait()

	if s.cmpOpts.AggressiveCleanup {
		// Sharded workers compare copies, so the input maps survive the
		// pass; release them here once no worker can touch them.
		clear(src)
		clear(dst)
	}

	var merged []compare.Outcome
	for _, part := range outcomes {
		merged = append(merged, part...)
	}
	return merged
}

func unionKeys(src, dst map[string]compare.Row) []string {
	keys := make([]string, 0, len(src)+len(dst))
	for k := range src {
		keys = append(keys, k)
	}
	for k := range dst {
		if _, ok := src[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func splitKeys(keys []string, n int) [][]string {
	if n > len(keys) {
		n = len(keys)
	}
	if n <= 1 {
		return [][]string{keys}
	}
	chunks := make([][]string, 0, n)
	size := (len(keys) + n - 1) / n
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
