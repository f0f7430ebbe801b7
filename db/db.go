// Package db wraps a jackc/pgx/v5 connection pool as an app.Component:
// prepare opens and pings the pool, start is a no-op, stop closes it, and
// health re-pings (spec.md §6 "db package wraps pgxpool.Pool as a
// Component").
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ipapp-go/ipapp/app"
)

var _ app.Component = (*DB)(nil)

// Config holds the pool's DSN and size bounds.
type Config struct {
	DSN          string
	MaxConns     int32
	MinConns     int32
}

// DB is a lifecycle-managed Postgres connection pool.
type DB struct {
	cfg  Config
	pool *pgxpool.Pool
}

// New creates a DB component. The pool is not opened until Prepare runs.
func New(cfg Config) *DB {
	return &DB{cfg: cfg}
}

// Pool returns the underlying pgxpool.Pool, valid after Prepare succeeds.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

func (d *DB) Prepare(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(d.cfg.DSN)
	if err != nil {
		return fmt.Errorf("db: parse dsn: %w", err)
	}
	if d.cfg.MaxConns > 0 {
		poolCfg.MaxConns = d.cfg.MaxConns
	}
	if d.cfg.MinConns > 0 {
		poolCfg.MinConns = d.cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("db: ping: %w", err)
	}
	d.pool = pool
	return nil
}

func (d *DB) Start(context.Context) error { return nil }

func (d *DB) Stop(context.Context) error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

func (d *DB) Health(ctx context.Context) error {
	if d.pool == nil {
		return fmt.Errorf("db: pool not prepared")
	}
	return d.pool.Ping(ctx)
}
