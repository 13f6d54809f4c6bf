// Package gist persists fiddle versions as snippets on a gist-hosting
// API. Versions are immutable: a save always creates a new snippet and
// returns its id, never updating an existing one. Retrieval goes through
// an injected bounded cache so immutable versions are fetched at most
// once.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	fiddle "github.com/stefb965/witty-fiddle"
)

const (
	// DefaultBaseURL is the production gist API root.
	DefaultBaseURL = "https://api.github.com"

	// The three virtual files a version is stored as.
	fileToken  = "wit-token"
	fileScript = "actions.js"
	fileMeta   = "meta.json"

	// description attached to every saved snippet.
	description = "wit.ai bot engine app"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (tests point this at a local server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client saves and retrieves fiddle versions.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *fiddle.Cache
	logger  *slog.Logger
}

// New creates a Client. cache holds retrieved versions keyed by id;
// because versions are immutable, cached entries never go stale.
func New(cache *fiddle.Cache, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  http.DefaultClient,
		cache:   cache,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// gistFile is one virtual file in the snippet wire format.
type gistFile struct {
	Content string `json:"content"`
}

// gistBody is the snippet create/read wire format.
type gistBody struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

// Save creates a new immutable version and returns its id.
func (c *Client) Save(ctx context.Context, token, script string, meta fiddle.Meta) (string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("gist: marshal meta: %w", err)
	}
	body, err := json.Marshal(gistBody{
		Description: description,
		Public:      true,
		Files: map[string]gistFile{
			fileToken:  {Content: token},
			fileScript: {Content: script},
			fileMeta:   {Content: string(metaJSON)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("gist: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gists", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gist: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpError(resp)
	}

	var created gistBody
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("gist: decode response: %w", err)
	}
	c.logger.Debug("gist: saved", "id", created.ID)
	return created.ID, nil
}

// Retrieve fetches the version stored under id, cache-first. A remote
// fetch parses the three virtual files; absent or malformed metadata
// defaults to empty. Successful fetches are cached by id.
func (c *Client) Retrieve(ctx context.Context, id string) (fiddle.Version, error) {
	var cached fiddle.Version
	if c.cache.GetJSON(ctx, id, &cached) {
		c.logger.Debug("gist: cache hit", "id", id)
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gists/"+id, nil)
	if err != nil {
		return fiddle.Version{}, fmt.Errorf("gist: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fiddle.Version{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fiddle.Version{}, httpError(resp)
	}

	var fetched gistBody
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		return fiddle.Version{}, fmt.Errorf("gist: decode response: %w", err)
	}

	v := fiddle.Version{
		Script: fetched.Files[fileScript].Content,
		Token:  fetched.Files[fileToken].Content,
	}
	// Absent or malformed metadata reads as empty, never errors.
	if raw := fetched.Files[fileMeta].Content; raw != "" {
		_ = json.Unmarshal([]byte(raw), &v.Meta)
	}

	if err := c.cache.SetJSON(ctx, id, v); err != nil {
		c.logger.Warn("gist: cache store failed", "id", id, "error", err)
	}
	return v, nil
}

// httpError reads a non-success response into an ErrHTTP, surfacing the
// remote error body's message when present.
func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var remote struct {
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(body, &remote) == nil {
		msg = remote.Message
	}
	return &fiddle.ErrHTTP{Status: resp.StatusCode, Message: msg}
}
