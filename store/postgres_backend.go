package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend is a PostgreSQL implementation of Backend, for pointing
// a persistent adapter at a store shared across processes. It uses
// FNV-1a hashing for fast lookups with a BIGINT primary key, storing the
// actual key for collision detection.
//
// Backend calls are synchronous by contract, so each call runs under an
// internal timeout rather than a caller-provided context.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	schema  string
	table   string
	timeout time.Duration
}

// PostgresOption configures a PostgresBackend.
type PostgresOption func(*PostgresBackend)

// WithTable sets the table name. Default: "stash_store".
func WithTable(name string) PostgresOption {
	return func(b *PostgresBackend) {
		b.table = name
	}
}

// WithSchema sets the PostgreSQL schema. Default: "public".
func WithSchema(schema string) PostgresOption {
	return func(b *PostgresBackend) {
		b.schema = schema
	}
}

// WithRequestTimeout bounds each backend call. Default: 10s.
func WithRequestTimeout(d time.Duration) PostgresOption {
	return func(b *PostgresBackend) {
		b.timeout = d
	}
}

// NewPostgresBackend creates a PostgreSQL-backed store. The table must be
// created with CreateTable before use.
func NewPostgresBackend(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresBackend {
	b := &PostgresBackend{
		pool:    pool,
		schema:  "public",
		table:   "stash_store",
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *PostgresBackend) fullTableName() string {
	return pgx.Identifier{b.schema, b.table}.Sanitize()
}

func (b *PostgresBackend) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// hashKey creates a deterministic 64-bit hash from a key string using
// FNV-1a.
func hashKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// CreateTable creates the key-value table if it does not exist.
func (b *PostgresBackend) CreateTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key_hash BIGINT PRIMARY KEY,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, b.fullTableName())

	_, err := b.pool.Exec(ctx, query)
	return err
}

func (b *PostgresBackend) Get(key string) (string, bool, error) {
	ctx, cancel := b.callContext()
	defer cancel()

	query := fmt.Sprintf(`
		SELECT value FROM %s WHERE key_hash = $1 AND key = $2
	`, b.fullTableName())

	var value string
	err := b.pool.QueryRow(ctx, query, hashKey(key), key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (b *PostgresBackend) Set(key, value string) error {
	ctx, cancel := b.callContext()
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (key_hash, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key_hash)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, b.fullTableName())

	_, err := b.pool.Exec(ctx, query, hashKey(key), key, value)
	return err
}

func (b *PostgresBackend) Remove(key string) error {
	ctx, cancel := b.callContext()
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s WHERE key_hash = $1 AND key = $2
	`, b.fullTableName())

	_, err := b.pool.Exec(ctx, query, hashKey(key), key)
	return err
}

func (b *PostgresBackend) Clear() error {
	ctx, cancel := b.callContext()
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s`, b.fullTableName())

	_, err := b.pool.Exec(ctx, query)
	return err
}

func (b *PostgresBackend) Keys() ([]string, error) {
	ctx, cancel := b.callContext()
	defer cancel()

	query := fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, b.fullTableName())

	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
