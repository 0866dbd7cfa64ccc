package engine

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

func init() {
	Register(&mysqlDialect{})
}

// mysqlDialect implements Dialect for MySQL/MariaDB.
type mysqlDialect struct{}

func (d *mysqlDialect) Name() string       { return "mysql" }
func (d *mysqlDialect) Aliases() []string  { return []string{"mariadb"} }
func (d *mysqlDialect) DriverName() string { return "mysql" }

func (d *mysqlDialect) DSN(p ConnParams) (string, error) {
	if p.Host == "" || p.Database == "" {
		return "", fmt.Errorf("mysql: host and database are required")
	}
	port := p.Port
	if port == "" {
		port = "3306"
	}
	// parseTime so DATE/DATETIME scan as time.Time rather than []byte.
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		p.User, p.Password, p.Host, port, p.Database), nil
}

func (d *mysqlDialect) Placeholder(n int) string {
	return "?"
}

func (d *mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *mysqlDialect) LimitClause(n int) string {
	return fmt.Sprintf("LIMIT %d", n)
}

func (d *mysqlDialect) MismatchTableDDL(qualified string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	primary_key VARCHAR(255) NOT NULL,
	mismatch_type VARCHAR(32) NOT NULL,
	column_name VARCHAR(128) NULL,
	source_value TEXT NULL,
	dest_value TEXT NULL,
	part_year VARCHAR(8) NULL,
	part_month VARCHAR(8) NULL,
	part_week VARCHAR(8) NULL
)`, qualified)
}
