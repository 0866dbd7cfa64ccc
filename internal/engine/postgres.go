package engine

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx database/sql shim)
)

func init() {
	Register(&postgresDialect{})
}

// postgresDialect implements Dialect for PostgreSQL.
type postgresDialect struct{}

func (d *postgresDialect) Name() string       { return "postgres" }
func (d *postgresDialect) Aliases() []string  { return []string{"postgresql", "pg"} }
func (d *postgresDialect) DriverName() string { return "pgx" }

func (d *postgresDialect) DSN(p ConnParams) (string, error) {
	if p.Host == "" || p.Database == "" {
		return "", fmt.Errorf("postgres: host and database are required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, port, url.PathEscape(p.Database)), nil
}

func (d *postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d *postgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *postgresDialect) LimitClause(n int) string {
	return fmt.Sprintf("LIMIT %d", n)
}

func (d *postgresDialect) MismatchTableDDL(qualified string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	primary_key text NOT NULL,
	mismatch_type text NOT NULL,
	column_name text,
	source_value text,
	dest_value text,
	part_year text,
	part_month text,
	part_week text
)`, qualified)
}
