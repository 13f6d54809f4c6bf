package fiddle

import (
	"context"
	"encoding/json"
)

// History is the composer recall stack: every sent chat input is pushed,
// and up/down move a cursor through past entries. The cursor lives in
// memory only; at startup it is re-derived as one past the last stored
// entry. History is not safe for concurrent use; the session shell
// serializes access.
type History struct {
	cache  *Cache
	cursor int
}

// NewHistory creates a History over cache, with the cursor one past the
// last persisted entry.
func NewHistory(ctx context.Context, cache *Cache) *History {
	return &History{cache: cache, cursor: cache.Len(ctx)}
}

// Push appends value and resets the cursor past the end, so the next Up
// returns value itself.
func (h *History) Push(ctx context.Context, value string) error {
	if err := h.cache.SetJSON(ctx, NewID(), value); err != nil {
		return err
	}
	h.cursor = h.cache.Len(ctx)
	return nil
}

// Up moves the cursor back one entry, clamped at the first, and returns
// the entry there. Returns false when history is empty.
func (h *History) Up(ctx context.Context) (string, bool) {
	h.cursor = max(h.cursor-1, 0)
	return h.at(ctx, h.cursor)
}

// Down moves the cursor forward one entry, clamped at the last, and
// returns the entry there. Returns false when history is empty.
func (h *History) Down(ctx context.Context) (string, bool) {
	h.cursor = min(h.cursor+1, h.cache.Len(ctx)-1)
	return h.at(ctx, h.cursor)
}

func (h *History) at(ctx context.Context, i int) (string, bool) {
	raw, ok := h.cache.ByIndex(ctx, i)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
