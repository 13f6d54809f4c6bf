// Package deploy hands the current fiddle code and token to a deploy
// preview surface. The preview must present the bridge's one-time key
// and originate from an allow-listed origin; anything else gets nothing.
package deploy

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// Payload is what an authorized preview receives.
type Payload struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge holds the payload for the deploy preview behind a key and an
// origin allow-list. The shell refreshes the payload on every code or
// token change so the preview always picks up the current state.
type Bridge struct {
	key     string
	origins map[string]bool

	mu      sync.Mutex
	payload Payload

	logger *slog.Logger
}

// New creates a Bridge with a fresh random key. origins lists the exact
// origins allowed to read the payload; an empty list allows none.
func New(origins []string, opts ...Option) *Bridge {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	buf := make([]byte, 16)
	rand.Read(buf)
	b := &Bridge{
		key:     hex.EncodeToString(buf),
		origins: allowed,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Key returns the bridge key. The shell embeds it in the preview URL it
// hands out; it is never served by the bridge itself.
func (b *Bridge) Key() string { return b.key }

// Update replaces the payload.
func (b *Bridge) Update(code, token string) {
	b.mu.Lock()
	b.payload = Payload{Code: code, Token: token}
	b.mu.Unlock()
}

// Authorize returns the payload when key matches and origin is
// allow-listed.
func (b *Bridge) Authorize(key, origin string) (Payload, bool) {
	if key != b.key || !b.origins[origin] {
		return Payload{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payload, true
}

// ServeHTTP answers a preview's payload request. The key travels in the
// request body; the origin is the request's Origin header.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	origin := r.Header.Get("Origin")
	payload, ok := b.Authorize(req.Key, origin)
	if !ok {
		b.logger.Debug("deploy: payload refused", "origin", origin)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

var _ http.Handler = (*Bridge)(nil)
