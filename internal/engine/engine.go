// Package engine provides pluggable database engine support. Each engine
// (SQL Server, PostgreSQL, Oracle, MySQL) contributes a Dialect covering DSN
// construction, identifier quoting, placeholder style and limit clauses, all
// behind database/sql.
package engine

import (
	"fmt"
	"sort"
	"strings"
)

// ConnParams are the resolved connection parameters for one side. They are
// built by the config loader from environment-indirected values; this
// package never reads environment state itself.
type ConnParams struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
	Service  string // Oracle service name
}

// ParamsFrom builds ConnParams from a resolved parameter map.
func ParamsFrom(m map[string]string) ConnParams {
	return ConnParams{
		User:     m["user"],
		Password: m["password"],
		Host:     m["host"],
		Port:     m["port"],
		Database: m["database"],
		Service:  m["service"],
	}
}

// Dialect is the engine-specific surface the reconciler depends on.
type Dialect interface {
	// Name returns the primary engine name (e.g. "mssql").
	Name() string

	// Aliases returns alternative names for this engine.
	Aliases() []string

	// DriverName returns the database/sql driver name to open.
	DriverName() string

	// DSN builds a connection string from resolved parameters.
	DSN(p ConnParams) (string, error)

	// Placeholder returns the parameter placeholder for the 1-based
	// position n.
	Placeholder(n int) string

	// QuoteIdent quotes an identifier for this engine.
	QuoteIdent(name string) string

	// LimitClause returns the clause appended after ORDER BY to cap the
	// row count.
	LimitClause(n int) string

	// MismatchTableDDL returns idempotent DDL creating the mismatch
	// table under the given qualified name.
	MismatchTableDDL(qualified string) string
}

var registry = make(map[string]Dialect)

// Register adds a dialect to the registry under its name and aliases.
// Called from init() in each engine file.
func Register(d Dialect) {
	registry[d.Name()] = d
	for _, alias := range d.Aliases() {
		registry[alias] = d
	}
}

// Get returns the dialect registered for name.
func Get(name string) (Dialect, error) {
	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown database type %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names returns the primary registered engine names, sorted.
func Names() []string {
	var names []string
	for name, d := range registry {
		if name == d.Name() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// QualifyTable joins schema and table with engine quoting. Schema may be
// empty.
func QualifyTable(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

// ConnectionError is a fetch-time or connect-time failure. It is scoped to
// one side/partition and non-fatal to sibling partitions.
type ConnectionError struct {
	Side   string
	Engine string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Side, e.Engine, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
