// Package sqlite implements store.Backend using pure-Go SQLite.
// Zero CGO required. One database file can hold several namespaced lists
// (gist cache, composer history).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stefb965/witty-fiddle/store"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a SQLite Backend.
type Option func(*Backend)

// WithLogger sets a structured logger. When set, the backend emits debug
// logs for every read and write. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend implements store.Backend backed by a local SQLite file.
// The entry list lives in one table, ordered by an insertion counter.
type Backend struct {
	db        *sql.DB
	namespace string
	logger    *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Open opens (or creates) the database at dbPath. It uses a single shared
// connection so concurrent writers serialize through one connection,
// eliminating SQLITE_BUSY errors.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New creates a Backend for one namespaced list in db.
func New(db *sql.DB, namespace string, opts ...Option) *Backend {
	b := &Backend{db: db, namespace: namespace, logger: nopLogger}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Init creates the backing table.
func (b *Backend) Init(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		pos INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (namespace, pos)
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Read returns the full entry list in insertion order.
func (b *Backend) Read(ctx context.Context) ([]store.Entry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, value FROM entries WHERE namespace = ? ORDER BY pos`, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, store.Entry{Key: key, Value: json.RawMessage(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.logger.Debug("sqlite: read", "namespace", b.namespace, "entries", len(entries))
	return entries, nil
}

// Write replaces the full entry list in one transaction.
func (b *Backend) Write(ctx context.Context, entries []store.Entry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE namespace = ?`, b.namespace); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (namespace, pos, key, value) VALUES (?, ?, ?, ?)`,
			b.namespace, i, e.Key, string(e.Value)); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.logger.Debug("sqlite: write", "namespace", b.namespace, "entries", len(entries))
	return nil
}
