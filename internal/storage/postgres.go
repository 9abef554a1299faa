package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/audiolibrelab/pocketrec/internal/catalog"
)

// Schema is the DDL for the key-value table. Apply it with
// [PostgresKV.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS pocketrec_kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is satisfied by *pgxpool.Pool and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ catalog.KVStore = (*PostgresKV)(nil)

// PostgresKV stores catalog values in a PostgreSQL table.
type PostgresKV struct {
	db DB
}

func NewPostgresKV(db DB) *PostgresKV {
	return &PostgresKV{db: db}
}

// OpenPostgresKV connects a pool to dsn and applies the schema. The caller
// closes the returned pool.
func OpenPostgresKV(ctx context.Context, dsn string) (*PostgresKV, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("storage: ping: %w", err)
	}
	kv := NewPostgresKV(pool)
	if err := kv.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return kv, pool, nil
}

func (p *PostgresKV) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx, `SELECT value FROM pocketrec_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return value, true, nil
}

func (p *PostgresKV) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO pocketrec_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	if _, err := p.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("storage: set %q: %w", key, err)
	}
	return nil
}
