// Package store defines the persisted-list backend used by the bounded
// cache and composer history. A backend holds one ordered list of
// (key, value) entries and rewrites it wholesale on every save, matching
// the read-modify-write persistence model of browser local storage.
//
// Backends: NewMemory (tests), file.New (local JSON file),
// sqlite.New (local database), postgres.New (shared deployments).
package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Entry is one (key, value) pair. Insertion order in the backing list
// defines both recency and eviction order.
type Entry struct {
	Key   string          `json:"k"`
	Value json.RawMessage `json:"v"`
}

// Backend persists one ordered entry list under a fixed namespace.
type Backend interface {
	// Read returns the full entry list. Missing state reads as empty.
	Read(ctx context.Context) ([]Entry, error)
	// Write replaces the full entry list.
	Write(ctx context.Context, entries []Entry) error
}

// Memory is an in-process Backend for tests and ephemeral sessions.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

var _ Backend = (*Memory)(nil)

func (m *Memory) Read(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *Memory) Write(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make([]Entry, len(entries))
	copy(m.entries, entries)
	return nil
}
