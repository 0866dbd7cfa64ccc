package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/fetch"
	"github.com/johndauphine/drt/internal/partition"
)

// recorder collects fetch start/end events across both fake fetchers so
// tests can assert scheduling order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) index(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.events {
		if got == e {
			return i
		}
	}
	return -1
}

type fakeFetcher struct {
	side  string
	rec   *recorder
	delay time.Duration

	// rows returned per partition label; nil map means empty partition.
	rows map[string]map[string]compare.Row

	// failOn makes the fetch for that label fail.
	failOn string

	mu       sync.Mutex
	lastOpts fetch.Options
}

func (f *fakeFetcher) Fetch(ctx context.Context, d partition.Descriptor, opts fetch.Options) (map[string]compare.Row, error) {
	label := d.Label()
	if f.rec != nil {
		f.rec.add(f.side + ":start:" + label)
		defer f.rec.add(f.side + ":end:" + label)
	}
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failOn == label {
		return nil, fmt.Errorf("fetch %s: connection reset", label)
	}
	return f.rows[label], nil
}

func rowsOf(keys ...string) map[string]compare.Row {
	m := make(map[string]compare.Row, len(keys))
	for _, k := range keys {
		m[k] = compare.Row{Key: k, Values: map[string]any{"v": k}}
	}
	return m
}

func collect(ch <-chan Result) map[string]Result {
	out := make(map[string]Result)
	for r := range ch {
		out[r.Descriptor.Label()] = r
	}
	return out
}

func testOpts() compare.Options {
	return compare.Options{Columns: []string{"v"}, IncludeNulls: true}
}

func TestWeeksOfOneMonthChainSequentially(t *testing.T) {
	parts := []partition.Descriptor{
		{Year: "2024", Month: "01", Week: "1"},
		{Year: "2024", Month: "01", Week: "2"},
		{Year: "2024", Month: "01", Week: "3"},
		{Year: "2024", Month: "02", Week: "1"},
	}
	rec := &recorder{}
	src := &fakeFetcher{side: "src", rec: rec, delay: 5 * time.Millisecond}
	dst := &fakeFetcher{side: "dst", rec: rec, delay: 5 * time.Millisecond}

	s := New(src, dst, testOpts(), Policy{Parallel: true, Workers: 8})
	res := collect(s.Run(context.Background(), parts))
	if len(res) != 4 {
		t.Fatalf("got %d results, want 4", len(res))
	}
	for label, r := range res {
		if r.Err != nil {
			t.Fatalf("partition %s failed: %v", label, r.Err)
		}
	}

	// Week k+1 of a month must not start fetching until both of week k's
	// fetches have completed.
	for _, succ := range [][2]string{{"2024-01-W1", "2024-01-W2"}, {"2024-01-W2", "2024-01-W3"}} {
		for _, side := range []string{"src", "dst"} {
			start := rec.index(side + ":start:" + succ[1])
			if start < 0 {
				t.Fatalf("no start event for %s %s", side, succ[1])
			}
			for _, prevSide := range []string{"src", "dst"} {
				end := rec.index(prevSide + ":end:" + succ[0])
				if end < 0 || end > start {
					t.Errorf("%s started (event %d) before %s finished (event %d)",
						succ[1], start, succ[0], end)
				}
			}
		}
	}
}

func TestFetchFailureIsIsolated(t *testing.T) {
	parts := []partition.Descriptor{
		{Year: "2024", Month: "01"},
		{Year: "2024", Month: "02"},
	}
	src := &fakeFetcher{side: "src", failOn: "2024-01", rows: map[string]map[string]compare.Row{
		"2024-02": rowsOf("1"),
	}}
	dst := &fakeFetcher{side: "dst", rows: map[string]map[string]compare.Row{
		"2024-02": rowsOf("1"),
	}}

	s := New(src, dst, testOpts(), Policy{Parallel: true, Workers: 2})
	res := collect(s.Run(context.Background(), parts))

	if res["2024-01"].Err == nil {
		t.Error("failed partition should carry its error")
	}
	if res["2024-01"].Outcomes != nil {
		t.Error("failed partition must not report outcomes")
	}
	if err := res["2024-02"].Err; err != nil {
		t.Errorf("sibling partition should have succeeded, got %v", err)
	}
	if res["2024-02"].Matched != 1 {
		t.Errorf("sibling matched = %d, want 1", res["2024-02"].Matched)
	}
}

func TestLimitMarksResultsPartial(t *testing.T) {
	parts := []partition.Descriptor{{Year: "2024", Month: "01"}}
	src := &fakeFetcher{side: "src"}
	dst := &fakeFetcher{side: "dst"}

	s := New(src, dst, testOpts(), Policy{Limit: 100})
	res := collect(s.Run(context.Background(), parts))
	if !res["2024-01"].Partial {
		t.Error("limited runs must be flagged partial")
	}

	s = New(src, dst, testOpts(), Policy{})
	res = collect(s.Run(context.Background(), parts))
	if res["2024-01"].Partial {
		t.Error("unlimited runs must not be flagged partial")
	}
}

func TestRecordModeBypassesPartitioning(t *testing.T) {
	parts := []partition.Descriptor{
		{Year: "2024", Month: "01"},
		{Year: "2024", Month: "02"},
	}
	src := &fakeFetcher{side: "src", rows: map[string]map[string]compare.Row{"all": rowsOf("42")}}
	dst := &fakeFetcher{side: "dst", rows: map[string]map[string]compare.Row{"all": rowsOf("42")}}

	s := New(src, dst, testOpts(), Policy{Records: []string{"42"}})
	res := collect(s.Run(context.Background(), parts))
	if len(res) != 1 {
		t.Fatalf("record mode should run one degenerate partition, got %d", len(res))
	}
	r, ok := res["all"]
	if !ok || !r.Descriptor.IsZero() {
		t.Fatalf("record mode descriptor should be zero, got %+v", r.Descriptor)
	}
	if len(src.lastOpts.Records) != 1 || src.lastOpts.Records[0] != "42" {
		t.Errorf("fetch options should carry the record filter, got %v", src.lastOpts.Records)
	}
	if r.Matched != 1 {
		t.Errorf("matched = %d, want 1", r.Matched)
	}
}

func TestRowModeMatchesBatchMode(t *testing.T) {
	srcRows := rowsOf("1", "2", "3", "4", "5")
	srcRows["3"] = compare.Row{Key: "3", Values: map[string]any{"v": "other"}}
	dstRows := rowsOf("1", "2", "3", "4", "6")

	parts := []partition.Descriptor{{Year: "2024", Month: "01"}}
	run := func(mode string, workers int) Result {
		src := &fakeFetcher{side: "src", rows: map[string]map[string]compare.Row{"2024-01": cloneRows(srcRows)}}
		dst := &fakeFetcher{side: "dst", rows: map[string]map[string]compare.Row{"2024-01": cloneRows(dstRows)}}
		s := New(src, dst, testOpts(), Policy{Parallel: true, Workers: workers, Mode: mode})
		return collect(s.Run(context.Background(), parts))["2024-01"]
	}

	batch := run("batch", 1)
	row := run("row", 3)

	if batch.Matched != 3 || batch.Mismatched != 1 || batch.MissingSource != 1 || batch.MissingDest != 1 {
		t.Fatalf("batch tallies off: %+v", batch)
	}
	if row.Matched != batch.Matched || row.Mismatched != batch.Mismatched ||
		row.MissingSource != batch.MissingSource || row.MissingDest != batch.MissingDest {
		t.Errorf("row mode tallies %+v differ from batch %+v", row, batch)
	}
	if len(row.Outcomes) != len(batch.Outcomes) {
		t.Fatalf("outcome counts differ: %d vs %d", len(row.Outcomes), len(batch.Outcomes))
	}
	for i := range batch.Outcomes {
		if row.Outcomes[i].Key != batch.Outcomes[i].Key || row.Outcomes[i].Kind != batch.Outcomes[i].Kind {
			t.Errorf("outcome[%d]: row %v/%v vs batch %v/%v", i,
				row.Outcomes[i].Key, row.Outcomes[i].Kind, batch.Outcomes[i].Key, batch.Outcomes[i].Kind)
		}
	}
}

func TestRowModeAggressiveCleanup(t *testing.T) {
	opts := testOpts()
	opts.AggressiveCleanup = true
	s := New(nil, nil, opts, Policy{Parallel: true, Workers: 3, Mode: "row"})

	src := rowsOf("1", "2", "3", "4")
	dst := rowsOf("1", "2", "3", "5")
	out := s.compareRows(src, dst)
	if len(out) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(out))
	}
	if len(src) != 0 || len(dst) != 0 {
		t.Errorf("aggressive cleanup should drain the input maps, got %d/%d left", len(src), len(dst))
	}
}

func cloneRows(in map[string]compare.Row) map[string]compare.Row {
	out := make(map[string]compare.Row, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func TestCancelledContextFailsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parts := []partition.Descriptor{{Year: "2024", Month: "01"}}
	src := &fakeFetcher{side: "src", delay: 50 * time.Millisecond}
	dst := &fakeFetcher{side: "dst", delay: 50 * time.Millisecond}
	s := New(src, dst, testOpts(), Policy{Parallel: true, Workers: 1})
	res := collect(s.Run(ctx, parts))
	if !errors.Is(res["2024-01"].Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res["2024-01"].Err)
	}
}

func TestSummary(t *testing.T) {
	var sum Summary
	sum.Add(Result{
		Descriptor: partition.Descriptor{Year: "2024", Month: "01"},
		Matched:    10, Mismatched: 2, MissingSource: 1, MissingDest: 3,
	})
	sum.Add(Result{
		Descriptor: partition.Descriptor{Year: "2024", Month: "02"},
		Err:        errors.New("boom"),
	})
	sum.Add(Result{
		Descriptor: partition.Descriptor{Year: "2024", Month: "03"},
		Partial:    true, Matched: 5,
	})

	if sum.Partitions != 3 || sum.FailedParts != 1 || sum.PartialParts != 1 {
		t.Fatalf("partition counts off: %+v", sum)
	}
	if !sum.Failed() {
		t.Error("Failed() should be true")
	}
	if sum.Matched != 15 || sum.Mismatched != 2 || sum.MissingSource != 1 || sum.MissingDest != 3 {
		t.Errorf("tallies off: %+v", sum)
	}

	out := sum.String()
	for _, want := range []string{"Matched: 15", "Mismatched: 2", "2024-02: boom", "1 partial"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
