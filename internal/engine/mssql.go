package engine

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
)

func init() {
	Register(&mssqlDialect{})
}

// mssqlDialect implements Dialect for Microsoft SQL Server.
type mssqlDialect struct{}

func (d *mssqlDialect) Name() string       { return "mssql" }
func (d *mssqlDialect) Aliases() []string  { return []string{"sqlserver"} }
func (d *mssqlDialect) DriverName() string { return "sqlserver" }

func (d *mssqlDialect) DSN(p ConnParams) (string, error) {
	if p.Host == "" || p.Database == "" {
		return "", fmt.Errorf("mssql: host and database are required")
	}
	host := p.Host
	if p.Port != "" {
		host += ":" + p.Port
	}
	// Credentials and database are URL-encoded; passwords routinely
	// contain @ and /.
	return fmt.Sprintf("sqlserver://%s:%s@%s?database=%s&TrustServerCertificate=true",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), host, url.QueryEscape(p.Database)), nil
}

func (d *mssqlDialect) Placeholder(n int) string {
	return fmt.Sprintf("@p%d", n)
}

func (d *mssqlDialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *mssqlDialect) LimitClause(n int) string {
	return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n)
}

func (d *mssqlDialect) MismatchTableDDL(qualified string) string {
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	primary_key NVARCHAR(255) NOT NULL,
	mismatch_type NVARCHAR(32) NOT NULL,
	column_name NVARCHAR(128) NULL,
	source_value NVARCHAR(MAX) NULL,
	dest_value NVARCHAR(MAX) NULL,
	part_year NVARCHAR(8) NULL,
	part_month NVARCHAR(8) NULL,
	part_week NVARCHAR(8) NULL
)`, strings.ReplaceAll(qualified, "'", "''"), qualified)
}
