package report

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"strings"
	"sync"
	"testing"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/engine"
	"github.com/johndauphine/drt/internal/partition"
)

func TestFromOutcomeValueMismatch(t *testing.T) {
	d := partition.Descriptor{Year: "2024", Month: "05", Week: "2"}
	o := compare.Outcome{
		Key:  "42",
		Kind: compare.ValueMismatch,
		Diffs: []compare.ColumnDiff{
			{Column: "amount", SourceValue: 10, DestValue: 11},
			{Column: "status", SourceValue: "open", DestValue: "closed"},
		},
	}
	recs := FromOutcome(d, o)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want one per differing column", len(recs))
	}
	for _, r := range recs {
		if r.Year != "2024" || r.Month != "05" || r.Week != "2" || r.PrimaryKey != "42" {
			t.Errorf("record lost partition identity or key: %+v", r)
		}
		if r.Type != "mismatch" {
			t.Errorf("type = %q, want mismatch", r.Type)
		}
	}
	if recs[0].Column != "amount" || recs[1].Column != "status" {
		t.Errorf("columns = %q, %q", recs[0].Column, recs[1].Column)
	}
}

func TestFromOutcomeUnresolvedColumn(t *testing.T) {
	d := partition.Descriptor{Year: "2024", Month: "05"}
	o := compare.Outcome{
		Key:  "42",
		Kind: compare.ValueMismatch,
		Diffs: []compare.ColumnDiff{
			{Column: "amount", SourceValue: 10, DestValue: 11},
			{
				Column:      "payload",
				SourceValue: "hello",
				DestValue:   7,
				Err:         &compare.TypeMismatchError{Column: "payload", SourceValue: "hello", DestValue: 7},
			},
		},
	}
	recs := FromOutcome(d, o)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Type != "mismatch" {
		t.Errorf("resolved column type = %q, want mismatch", recs[0].Type)
	}
	if recs[1].Type != "unresolved" || recs[1].Column != "payload" {
		t.Errorf("unresolved column record = %+v", recs[1])
	}
}

func TestFromOutcomeMissingRow(t *testing.T) {
	d := partition.Descriptor{Year: "2024", Month: "05"}
	recs := FromOutcome(d, compare.Outcome{Key: "7", Kind: compare.MissingInDestination})
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Type != "missing_in_dest" || r.Column != "" || r.SourceValue != nil || r.DestValue != nil {
		t.Errorf("missing-row record = %+v", r)
	}
}

func TestFromOutcomeMatchYieldsNothing(t *testing.T) {
	recs := FromOutcome(partition.Descriptor{}, compare.Outcome{Key: "1", Kind: compare.Match})
	if len(recs) != 0 {
		t.Errorf("match should produce no records, got %v", recs)
	}
}

func TestStreamSinkCSV(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStreamSink(&buf)
	ctx := context.Background()

	recs := []Record{
		{Year: "2024", Month: "05", PrimaryKey: "1", Type: "mismatch", Column: "amount", SourceValue: "18.20", DestValue: 18.3},
		{Year: "2024", Month: "05", PrimaryKey: "2", Type: "missing_in_source"},
	}
	if err := sink.Report(ctx, recs); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "year" || rows[0][3] != "primary_key" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][6] != "18.2" || rows[1][7] != "18.3" {
		t.Errorf("values should be canonical: %v", rows[1])
	}
	if rows[2][4] != "missing_in_source" || rows[2][6] != "" {
		t.Errorf("missing-row record = %v", rows[2])
	}
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeExecer struct {
	mu      sync.Mutex
	queries []string
	args    [][]any
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return fakeResult{}, nil
}

func (f *fakeExecer) count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.queries {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

func TestTableSinkBatching(t *testing.T) {
	db := &fakeExecer{}
	dialect, err := engine.Get("postgres")
	if err != nil {
		t.Fatalf("Get(postgres): %v", err)
	}
	sink := NewTableSink(db, dialect, "public", "mismatches")
	sink.batchSize = 3
	ctx := context.Background()

	rec := Record{Year: "2024", Month: "05", PrimaryKey: "1", Type: "mismatch", Column: "amount", SourceValue: 1, DestValue: 2}
	for i := 0; i < 2; i++ {
		if err := sink.Report(ctx, []Record{rec}); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	if got := db.count("INSERT"); got != 0 {
		t.Fatalf("flushed %d inserts before the batch filled", got)
	}

	if err := sink.Report(ctx, []Record{rec}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got := db.count("INSERT"); got != 3 {
		t.Fatalf("got %d inserts after batch fill, want 3", got)
	}

	if err := sink.Report(ctx, []Record{rec}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := db.count("INSERT"); got != 4 {
		t.Fatalf("got %d inserts after close, want 4", got)
	}
}

func TestTableSinkInitTruncate(t *testing.T) {
	db := &fakeExecer{}
	dialect, err := engine.Get("postgres")
	if err != nil {
		t.Fatalf("Get(postgres): %v", err)
	}
	sink := NewTableSink(db, dialect, "public", "mismatches")
	parts := []partition.Descriptor{
		{Year: "2024", Month: "05", Week: "1"},
		{Year: "2024", Month: "05", Week: "2"},
		{Year: "2024", Month: "06"},
	}

	if err := sink.Init(context.Background(), parts, true); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := db.count("CREATE TABLE"); got != 1 {
		t.Errorf("got %d DDL statements, want 1", got)
	}
	// Truncate retention clears per month, not per week.
	if got := db.count("DELETE"); got != 2 {
		t.Errorf("got %d delete statements, want 2", got)
	}
}

func TestTableSinkInitAppend(t *testing.T) {
	db := &fakeExecer{}
	dialect, err := engine.Get("postgres")
	if err != nil {
		t.Fatalf("Get(postgres): %v", err)
	}
	sink := NewTableSink(db, dialect, "public", "mismatches")
	if err := sink.Init(context.Background(), []partition.Descriptor{{Year: "2024", Month: "05"}}, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := db.count("DELETE"); got != 0 {
		t.Errorf("append retention must not delete, got %d", got)
	}
}
