// Package store implements the durable side of the aggregation pipeline:
// schema bootstrap and additive-upsert persistence against Postgres with
// the TimescaleDB extension, via pgx's connection pool.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// DB wraps a pgx connection pool scoped to the netsentinel schema. It
// implements internal/aggregator.Store. The schema-seed readback uses
// a struct-mapped sqlx handle over the same pool rather than pgx's own
// Scan, since the result maps directly onto a Go struct.
type DB struct {
	pool *pgxpool.Pool
	seed *sqlx.DB
}

// SchemaMeta mirrors the schema_meta fallback row read at startup.
type SchemaMeta struct {
	SchemaVersion         int `db:"schema_version"`
	ActivityWindowSecs    int `db:"activity_window_secs"`
	BucketSizeSecs        int `db:"bucket_size_secs"`
	MaxBucketLookbackSecs int `db:"max_bucket_lookback_secs"`
}

// Open connects to url with the given pool size and connect timeout, and
// returns a DB. It does not create the schema; call EnsureSchema for that.
func Open(ctx context.Context, url string, maxConns int32, connectTimeout time.Duration) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	seed := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")

	return &DB{pool: pool, seed: seed}, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() {
	db.seed.Close()
	db.pool.Close()
}

// EnsureSchema runs the idempotent DDL that creates every table, the
// TimescaleDB hypertable and retention policy, and the schema_meta
// default row, ensuring the schema exists on every connect.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range createSchemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}

// ReadSchemaMeta reads the seeded fallback row, used by the aggregator at
// startup only to fill in values the TOML config omitted.
func (db *DB) ReadSchemaMeta(ctx context.Context) (SchemaMeta, error) {
	var m SchemaMeta
	err := db.seed.GetContext(ctx, &m,
		`SELECT schema_version, activity_window_secs, bucket_size_secs, max_bucket_lookback_secs FROM schema_meta WHERE id`)
	if err != nil {
		return m, fmt.Errorf("store: read schema_meta: %w", err)
	}
	return m, nil
}
