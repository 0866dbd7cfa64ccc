// Package config loads and validates the reconciliation configuration.
//
// Connection credentials are never stored in the config file; each side
// carries an env section mapping connection parameter names to environment
// variable names. The loader resolves those through a caller-supplied
// Resolver so the core never reads process environment state directly.
package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError indicates an invalid configuration. It is fatal and
// surfaces before any scheduling work begins.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Resolver resolves an environment variable name to its value.
// Production code passes os.LookupEnv; tests inject fakes.
type Resolver func(name string) (string, bool)

// Config is the root configuration document.
type Config struct {
	Debug  string `yaml:"debug"`  // low, medium, high (or true/false)
	Strict bool   `yaml:"strict"` // partition failures fail the whole run

	Source      Side `yaml:"source"`
	Destination Side `yaml:"destination"`

	PrimaryKey   string       `yaml:"primary_key"`
	Partitioning Partitioning `yaml:"partitioning"`
	Comparison   Comparison   `yaml:"comparison"`
	Output       Output       `yaml:"output"`
	Update       Update       `yaml:"update"`

	// StatePath is the local SQLite run-history database.
	StatePath string `yaml:"state_path"`
}

// Side describes one side's database and table.
type Side struct {
	Type   string `yaml:"type"` // mssql, postgres, oracle, mysql
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`

	// Columns maps logical column names to this side's physical column
	// names, in document order. A plain list is treated as an identity
	// mapping.
	Columns ColumnSet `yaml:"columns"`

	// Env maps connection parameter names (user, password, host, port,
	// database, service) to environment variable names.
	Env map[string]string `yaml:"env"`

	// Resolved holds the resolved connection parameters. Populated by
	// Load; never serialized.
	Resolved map[string]string `yaml:"-"`

	MaxConnections int `yaml:"max_connections"`
}

// Partitioning declares the partition columns and the scope to reconcile.
type Partitioning struct {
	YearColumn  string       `yaml:"year_column"`
	MonthColumn string       `yaml:"month_column"`
	WeekColumn  string       `yaml:"week_column"`
	Scope       []ScopeEntry `yaml:"scope"`
}

// ScopeEntry is one year/month slice, optionally subdivided into weeks.
type ScopeEntry struct {
	Year  FlexString `yaml:"year"`
	Month FlexString `yaml:"month"`
	Weeks []int      `yaml:"weeks"`
}

// Comparison holds row-comparison and scheduling options.
type Comparison struct {
	UseRowHash              bool   `yaml:"use_row_hash"`
	AggressiveMemoryCleanup bool   `yaml:"aggressive_memory_cleanup"`
	Parallel                bool   `yaml:"parallel"`
	ParallelMode            string `yaml:"parallel_mode"` // batch (default) or row
	IncludeNulls            *bool  `yaml:"include_nulls"` // default true
	Workers                 string `yaml:"workers"`       // "auto" (default) or a number
	FetchTimeout            string `yaml:"fetch_timeout"` // Go duration, empty = no timeout
}

// Output configures where mismatch records go.
type Output struct {
	Format    string `yaml:"format"` // table (default) or csv
	Schema    string `yaml:"schema"`
	Table     string `yaml:"table"`
	Retention string `yaml:"retention"` // append (default) or truncate
}

// Update configures the fix-application phase.
type Update struct {
	DryRun    *bool `yaml:"dry_run"`    // default true
	SkipNulls *bool `yaml:"skip_nulls"` // default true
}

// FlexString accepts either a YAML string or number scalar.
type FlexString string

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FlexString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar, got %v", node.Kind)
	}
	*f = FlexString(node.Value)
	return nil
}

func (f FlexString) String() string { return string(f) }

// Load reads, resolves and validates the configuration at path.
func Load(path string, resolve Resolver) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, resolve)
}

// Parse parses and validates a raw configuration document.
func Parse(data []byte, resolve Resolver) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, configErrorf("parsing yaml: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.resolveEnv(resolve); err != nil {
		return nil, err
	}
	if err := cfg.normalizeColumns(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Debug == "" {
		c.Debug = "low"
	}
	if c.Comparison.ParallelMode == "" {
		c.Comparison.ParallelMode = "batch"
	}
	if c.Comparison.Workers == "" {
		c.Comparison.Workers = "auto"
	}
	if c.Output.Format == "" {
		c.Output.Format = "table"
	}
	if c.Output.Retention == "" {
		c.Output.Retention = "append"
	}
	if c.StatePath == "" {
		c.StatePath = ".drt-state.db"
	}
	if c.Source.MaxConnections <= 0 {
		c.Source.MaxConnections = 4
	}
	if c.Destination.MaxConnections <= 0 {
		c.Destination.MaxConnections = 4
	}
}

func (c *Config) resolveEnv(resolve Resolver) error {
	if resolve == nil {
		return configErrorf("no environment resolver supplied")
	}
	var err error
	if c.Source.Resolved, err = resolveMap("source", c.Source.Env, resolve); err != nil {
		return err
	}
	if c.Destination.Resolved, err = resolveMap("destination", c.Destination.Env, resolve); err != nil {
		return err
	}
	return nil
}

func resolveMap(side string, env map[string]string, resolve Resolver) (map[string]string, error) {
	resolved := make(map[string]string, len(env))
	// Deterministic iteration so the first error is stable.
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := resolve(env[k])
		if !ok {
			return nil, configErrorf("%s: environment variable %q (for %q) is missing or unset", side, env[k], k)
		}
		resolved[k] = v
	}
	return resolved, nil
}

// normalizeColumns mirrors destination columns from source when absent and
// drops destination-only entries that have no logical counterpart.
func (c *Config) normalizeColumns() error {
	if c.Source.Columns.Len() == 0 {
		return configErrorf("source: no columns declared")
	}
	if c.Destination.Columns.Len() == 0 {
		c.Destination.Columns = c.Source.Columns.Clone()
		return nil
	}
	c.Destination.Columns = c.Destination.Columns.Intersect(&c.Source.Columns)
	return nil
}

func (c *Config) validate() error {
	for side, s := range map[string]*Side{"source": &c.Source, "destination": &c.Destination} {
		if s.Type == "" {
			return configErrorf("%s: type is required", side)
		}
		if s.Table == "" {
			return configErrorf("%s: table is required", side)
		}
	}
	pk := strings.ToLower(c.PrimaryKey)
	if pk == "" {
		return configErrorf("primary_key is required")
	}
	c.PrimaryKey = pk
	if !c.Source.Columns.Has(pk) {
		return configErrorf("primary key %q not present in source columns", pk)
	}
	if !c.Destination.Columns.Has(pk) {
		return configErrorf("primary key %q not present in destination columns", pk)
	}

	p := &c.Partitioning
	p.YearColumn = strings.ToLower(p.YearColumn)
	p.MonthColumn = strings.ToLower(p.MonthColumn)
	p.WeekColumn = strings.ToLower(p.WeekColumn)
	if p.YearColumn == "" || p.MonthColumn == "" {
		return configErrorf("partitioning: year_column and month_column are required")
	}
	if !c.Source.Columns.Has(p.YearColumn) || !c.Source.Columns.Has(p.MonthColumn) {
		return configErrorf("partitioning columns %q/%q not resolvable in source columns", p.YearColumn, p.MonthColumn)
	}
	if p.WeekColumn != "" && !c.Source.Columns.Has(p.WeekColumn) {
		return configErrorf("week column %q not resolvable in source columns", p.WeekColumn)
	}
	for i, e := range p.Scope {
		if e.Year == "" {
			return configErrorf("partitioning scope[%d]: year is required", i)
		}
		if len(e.Weeks) > 0 {
			if e.Month == "" {
				return configErrorf("partitioning scope[%d]: weeks specified without month", i)
			}
			if p.WeekColumn == "" {
				return configErrorf("partitioning scope[%d]: weeks specified but no week_column declared", i)
			}
		}
	}
	if len(p.Scope) == 0 {
		return configErrorf("partitioning: scope is empty")
	}

	switch c.Comparison.ParallelMode {
	case "batch", "row":
	default:
		return configErrorf("comparison: parallel_mode must be batch or row, got %q", c.Comparison.ParallelMode)
	}
	if _, err := c.WorkerCount(); err != nil {
		return err
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}

	switch c.Output.Format {
	case "table":
		if c.Output.Table == "" {
			return configErrorf("output: table is required for table format")
		}
	case "csv":
	default:
		return configErrorf("output: format must be table or csv, got %q", c.Output.Format)
	}
	switch c.Output.Retention {
	case "append", "truncate":
	default:
		return configErrorf("output: retention must be append or truncate, got %q", c.Output.Retention)
	}
	return nil
}

// IncludeNulls reports whether null-vs-value differences count as mismatches
// (default true).
func (c *Config) IncludeNulls() bool {
	if c.Comparison.IncludeNulls == nil {
		return true
	}
	return *c.Comparison.IncludeNulls
}

// DryRun reports whether apply-fixes renders statements without executing
// them (default true).
func (c *Config) DryRun() bool {
	if c.Update.DryRun == nil {
		return true
	}
	return *c.Update.DryRun
}

// SkipNulls reports whether null source values are excluded from updates
// (default true).
func (c *Config) SkipNulls() bool {
	if c.Update.SkipNulls == nil {
		return true
	}
	return *c.Update.SkipNulls
}

// FetchTimeout returns the per-fetch timeout, zero when disabled.
func (c *Config) FetchTimeout() (time.Duration, error) {
	if c.Comparison.FetchTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Comparison.FetchTimeout)
	if err != nil {
		return 0, configErrorf("comparison: invalid fetch_timeout %q", c.Comparison.FetchTimeout)
	}
	return d, nil
}

// WorkerCount resolves the configured worker count. "auto" derives a bound
// from available CPU and memory.
func (c *Config) WorkerCount() (int, error) {
	w := strings.ToLower(strings.TrimSpace(c.Comparison.Workers))
	if w == "" || w == "auto" {
		return autoWorkers(), nil
	}
	n, err := strconv.Atoi(w)
	if err != nil || n < 1 {
		return 0, configErrorf("comparison: workers must be a positive number or auto, got %q", c.Comparison.Workers)
	}
	return n, nil
}

// autoWorkers sizes the worker pool from CPU count and available memory,
// budgeting roughly 1.5GB per concurrent partition.
func autoWorkers() int {
	const memPerWorkerMB = 1536

	byCPU := runtime.NumCPU() * 3 / 4
	if byCPU < 1 {
		byCPU = 1
	}
	byMem := int(getAvailableMemoryMB() / memPerWorkerMB)
	if byMem < 1 {
		byMem = 1
	}
	if byMem < byCPU {
		return byMem
	}
	return byCPU
}
