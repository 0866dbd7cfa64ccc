package engine

import (
	"fmt"
	"strings"

	_ "github.com/godror/godror" // Oracle driver
)

func init() {
	Register(&oracleDialect{})
}

// oracleDialect implements Dialect for Oracle Database.
type oracleDialect struct{}

func (d *oracleDialect) Name() string       { return "oracle" }
func (d *oracleDialect) Aliases() []string  { return []string{"ora", "oracledb"} }
func (d *oracleDialect) DriverName() string { return "godror" }

func (d *oracleDialect) DSN(p ConnParams) (string, error) {
	service := p.Service
	if service == "" {
		service = p.Database
	}
	if p.Host == "" || service == "" {
		return "", fmt.Errorf("oracle: host and service are required")
	}
	port := p.Port
	if port == "" {
		port = "1521"
	}
	connect := fmt.Sprintf("%s:%s/%s", p.Host, port, service)
	return fmt.Sprintf(`user=%q password=%q connectString=%q`, p.User, p.Password, connect), nil
}

func (d *oracleDialect) Placeholder(n int) string {
	return fmt.Sprintf(":%d", n)
}

// QuoteIdent uppercases before quoting; Oracle folds unquoted identifiers to
// uppercase, so this keeps quoted and unquoted references to the same object
// interchangeable.
func (d *oracleDialect) QuoteIdent(name string) string {
	upper := strings.ToUpper(name)
	return `"` + strings.ReplaceAll(upper, `"`, `""`) + `"`
}

func (d *oracleDialect) LimitClause(n int) string {
	return fmt.Sprintf("FETCH FIRST %d ROWS ONLY", n)
}

func (d *oracleDialect) MismatchTableDDL(qualified string) string {
	ddl := fmt.Sprintf(`CREATE TABLE %s (
	primary_key VARCHAR2(255) NOT NULL,
	mismatch_type VARCHAR2(32) NOT NULL,
	column_name VARCHAR2(128),
	source_value CLOB,
	dest_value CLOB,
	part_year VARCHAR2(8),
	part_month VARCHAR2(8),
	part_week VARCHAR2(8)
)`, qualified)
	// ORA-00955: name is already used by an existing object
	return fmt.Sprintf(`BEGIN
	EXECUTE IMMEDIATE '%s';
EXCEPTION WHEN OTHERS THEN
	IF SQLCODE != -955 THEN RAISE; END IF;
END;`, strings.ReplaceAll(ddl, "'", "''"))
}
