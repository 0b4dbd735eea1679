// Package db provides PostgreSQL access: the connection pool, schema
// migrations, and the optimisation run history.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Querier is the subset of pgxpool.Pool used by this package.
// pgxmock pools satisfy it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool   Querier
	closer func()
}

// New creates a new database connection pool from a DSN
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", config.ConnConfig.Host).
		Int32("max_conns", config.MaxConns).
		Msg("Database connection pool created successfully")

	return &DB{pool: pool, closer: pool.Close}, nil
}

// NewWithQuerier wraps an existing pool or mock
func NewWithQuerier(q Querier) *DB {
	return &DB{pool: q}
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.closer != nil {
		db.closer()
		log.Info().Msg("Database connection pool closed")
	}
}

// Querier returns the underlying pool
func (db *DB) Querier() Querier {
	return db.pool
}

// Health checks database connectivity
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
