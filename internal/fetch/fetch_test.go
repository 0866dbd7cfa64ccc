package fetch

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/johndauphine/drt/internal/compare"
	"github.com/johndauphine/drt/internal/config"
	"github.com/johndauphine/drt/internal/engine"
	"github.com/johndauphine/drt/internal/partition"
	_ "modernc.org/sqlite"
)

func testFetcher(t *testing.T, db *sql.DB, engineName string) *Fetcher {
	t.Helper()
	dialect, err := engine.Get(engineName)
	if err != nil {
		t.Fatalf("Get(%s): %v", engineName, err)
	}
	side := &config.Side{
		Schema: "dbo",
		Table:  "orders",
		Columns: config.FromPairs(
			[2]string{"order_id", "ORDER_ID"},
			[2]string{"amount", "AMOUNT"},
			[2]string{"order_year", "ORDER_YEAR"},
			[2]string{"order_month", "ORDER_MONTH"},
			[2]string{"order_week", "ORDER_WEEK"},
		),
	}
	p := config.Partitioning{YearColumn: "order_year", MonthColumn: "order_month", WeekColumn: "order_week"}
	return New(&engine.Pool{DB: db, Dialect: dialect}, compare.SideSource, side, "order_id", p)
}

func TestBuildQueryMonthPartition(t *testing.T) {
	f := testFetcher(t, nil, "mssql")
	query, args := f.buildQuery(partition.Descriptor{Year: "2024", Month: "05"}, Options{})
	want := "SELECT [order_id], [amount], [order_year], [order_month], [order_week] " +
		"FROM [dbo].[orders] WHERE [order_year] = @p1 AND [order_month] = @p2 ORDER BY [order_id]"
	if query != want {
		t.Errorf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 2 || args[0] != "2024" || args[1] != "05" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildQueryWeekAndLimit(t *testing.T) {
	f := testFetcher(t, nil, "postgres")
	query, args := f.buildQuery(partition.Descriptor{Year: "2024", Month: "05", Week: "2"}, Options{Limit: 100})
	want := `SELECT "order_id", "amount", "order_year", "order_month", "order_week" ` +
		`FROM "dbo"."orders" WHERE "order_year" = $1 AND "order_month" = $2 AND "order_week" = $3 ` +
		`ORDER BY "order_id" LIMIT 100`
	if query != want {
		t.Errorf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 3 || args[2] != "2" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildQueryRecordMode(t *testing.T) {
	f := testFetcher(t, nil, "postgres")
	query, args := f.buildQuery(partition.Descriptor{}, Options{Records: []string{"7", "9"}})
	want := `SELECT "order_id", "amount", "order_year", "order_month", "order_week" ` +
		`FROM "dbo"."orders" WHERE "order_id" IN ($1, $2) ORDER BY "order_id"`
	if query != want {
		t.Errorf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 2 || args[0] != "7" || args[1] != "9" {
		t.Errorf("args = %v", args)
	}
}

func sqliteFetcher(t *testing.T) (*Fetcher, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE orders (order_id TEXT, amount TEXT, order_year TEXT, order_month TEXT)`); err != nil {
		t.Fatalf("setup: %v", err)
	}
	rows := [][4]string{
		{"1", "10.5", "2024", "05"},
		{"2", "20", "2024", "05"},
		{"3", "30", "2024", "06"},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO orders VALUES (?, ?, ?, ?)`, r[0], r[1], r[2], r[3]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	dialect, err := engine.Get("mysql")
	if err != nil {
		t.Fatalf("Get(mysql): %v", err)
	}
	side := &config.Side{
		Table: "orders",
		Columns: config.FromPairs(
			[2]string{"order_id", "order_id"},
			[2]string{"amount", "amount"},
			[2]string{"order_year", "order_year"},
			[2]string{"order_month", "order_month"},
		),
	}
	p := config.Partitioning{YearColumn: "order_year", MonthColumn: "order_month"}
	return New(&engine.Pool{DB: db, Dialect: dialect}, compare.SideSource, side, "order_id", p), db
}

func TestFetchPartition(t *testing.T) {
	f, _ := sqliteFetcher(t)
	rows, err := f.Fetch(context.Background(), partition.Descriptor{Year: "2024", Month: "05"}, Options{WithHash: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	r, ok := rows["1"]
	if !ok {
		t.Fatalf("row 1 missing: %v", rows)
	}
	if r.Side != compare.SideSource {
		t.Errorf("side = %v", r.Side)
	}
	if r.Hash == "" {
		t.Error("WithHash should populate the row hash")
	}
	if compare.CanonicalString(r.Values["amount"]) != "10.5" {
		t.Errorf("amount = %v", r.Values["amount"])
	}
}

func TestFetchRecordFilter(t *testing.T) {
	f, _ := sqliteFetcher(t)
	rows, err := f.Fetch(context.Background(), partition.Descriptor{}, Options{Records: []string{"3"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if _, ok := rows["3"]; !ok {
		t.Errorf("rows = %v", rows)
	}
}

func TestFetchErrorIsConnectionError(t *testing.T) {
	f, db := sqliteFetcher(t)
	if _, err := db.Exec(`DROP TABLE orders`); err != nil {
		t.Fatal(err)
	}
	_, err := f.Fetch(context.Background(), partition.Descriptor{Year: "2024", Month: "05"}, Options{})
	var connErr *engine.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Side != "source" {
		t.Errorf("side = %q, want source", connErr.Side)
	}
}
