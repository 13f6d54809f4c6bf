package fiddle

import (
	"context"
	"encoding/json"

	"github.com/stefb965/witty-fiddle/store"
)

// Cache is a bounded key-value list over a persisted backend. Insertion
// order defines recency; once the list exceeds its limit, the oldest
// entries are dropped from the front on save.
//
// A Cache is constructed once and injected wherever it is needed; there
// are no package-level instances, so tests supply isolated backends.
type Cache struct {
	backend store.Backend
	limit   int
}

// NewCache creates a Cache over backend holding at most limit entries.
func NewCache(backend store.Backend, limit int) *Cache {
	return &Cache{backend: backend, limit: limit}
}

// read loads the backing list. Backend failures and corrupted state read
// as an empty cache rather than surfacing an error.
func (c *Cache) read(ctx context.Context) []store.Entry {
	entries, err := c.backend.Read(ctx)
	if err != nil {
		return nil
	}
	return entries
}

// Entries returns the current list, oldest first.
func (c *Cache) Entries(ctx context.Context) []store.Entry {
	return c.read(ctx)
}

// Len returns the number of stored entries.
func (c *Cache) Len(ctx context.Context) int {
	return len(c.read(ctx))
}

// Get returns the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	for _, e := range c.read(ctx) {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// ByIndex returns the value at position i, oldest first.
func (c *Cache) ByIndex(ctx context.Context, i int) (json.RawMessage, bool) {
	entries := c.read(ctx)
	if i < 0 || i >= len(entries) {
		return nil, false
	}
	return entries[i].Value, true
}

// Set stores value under key. An existing key is removed first, so the
// pair moves to the most-recent position. After the append the list is
// truncated from the front to the configured limit and persisted.
func (c *Cache) Set(ctx context.Context, key string, value json.RawMessage) error {
	entries := c.read(ctx)
	kept := entries[:0]
	for _, e := range entries {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	kept = append(kept, store.Entry{Key: key, Value: value})
	if len(kept) > c.limit {
		kept = kept[len(kept)-c.limit:]
	}
	return c.backend.Write(ctx, kept)
}

// SetJSON marshals value and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data)
}

// GetJSON unmarshals the value stored under key into out.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
