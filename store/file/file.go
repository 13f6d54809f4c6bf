// Package file implements store.Backend as a JSON file on disk, the local
// analog of a browser's persisted storage key.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/stefb965/witty-fiddle/store"
)

// Backend persists the entry list as one JSON document.
type Backend struct {
	path string
}

var _ store.Backend = (*Backend)(nil)

// New creates a file backend at path. The file is created on first Write;
// parent directories are created as needed.
func New(path string) *Backend {
	return &Backend{path: path}
}

// Read returns the persisted list. A missing or unreadable file reads as
// empty; malformed JSON also reads as empty so a corrupted file never
// wedges the caller.
func (b *Backend) Read(context.Context) ([]store.Entry, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, nil
	}
	var entries []store.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil
	}
	return entries, nil
}

// Write replaces the persisted list. The write goes through a temp file and
// rename so a crash mid-write leaves the previous list intact.
func (b *Backend) Write(_ context.Context, entries []store.Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
