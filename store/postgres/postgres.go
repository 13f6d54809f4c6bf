// Package postgres implements store.Backend using PostgreSQL, for
// deployments where the fiddle server is shared and local files won't do.
//
// The Backend accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stefb965/witty-fiddle/store"
)

// Backend implements store.Backend backed by PostgreSQL.
type Backend struct {
	pool      *pgxpool.Pool
	namespace string
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend for one namespaced list using an existing pool.
func New(pool *pgxpool.Pool, namespace string) *Backend {
	return &Backend{pool: pool, namespace: namespace}
}

// Init creates the backing table.
func (b *Backend) Init(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		pos INTEGER NOT NULL,
		key TEXT NOT NULL,
		value JSONB NOT NULL,
		PRIMARY KEY (namespace, pos)
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Read returns the full entry list in insertion order.
func (b *Backend) Read(ctx context.Context) ([]store.Entry, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT key, value FROM entries WHERE namespace = $1 ORDER BY pos`, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, store.Entry{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Write replaces the full entry list in one transaction.
func (b *Backend) Write(ctx context.Context, entries []store.Entry) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM entries WHERE namespace = $1`, b.namespace); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for i, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO entries (namespace, pos, key, value) VALUES ($1, $2, $3, $4)`,
			b.namespace, i, e.Key, []byte(e.Value)); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
