package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// Pool wraps a database/sql pool together with its dialect.
type Pool struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open creates a connection pool for the given engine type and verifies it
// with a ping.
func Open(ctx context.Context, side, engineType string, params ConnParams, maxConns int) (*Pool, error) {
	dialect, err := Get(engineType)
	if err != nil {
		return nil, err
	}

	dsn, err := dialect.DSN(params)
	if err != nil {
		return nil, &ConnectionError{Side: side, Engine: dialect.Name(), Err: err}
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, &ConnectionError{Side: side, Engine: dialect.Name(), Err: fmt.Errorf("opening connection: %w", err)}
	}

	db.SetMaxOpenConns(maxConns)
	if maxConns >= 4 {
		db.SetMaxIdleConns(maxConns / 4)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Side: side, Engine: dialect.Name(), Err: fmt.Errorf("pinging database: %w", err)}
	}

	return &Pool{DB: db, Dialect: dialect}, nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() error {
	return p.DB.Close()
}
