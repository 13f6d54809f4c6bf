// Package wit implements the conversational-AI runtime boundary against
// the wit.ai converse API. An Engine drives the runtime's multi-step
// loop: each converse call tells it whether to invoke an action, send a
// message through the send action, or stop.
package wit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	fiddle "github.com/stefb965/witty-fiddle"
)

const (
	// DefaultBaseURL is the production wit.ai API root.
	DefaultBaseURL = "https://api.wit.ai"

	// apiVersion pins the converse wire format.
	apiVersion = "20160516"

	// defaultMaxSteps bounds one turn's converse loop, matching the
	// runtime client the original app embedded.
	defaultMaxSteps = 5
)

// Option configures an Engine.
type Option func(*Engine)

// WithBaseURL overrides the API root (tests point this at a local server).
func WithBaseURL(u string) Option {
	return func(e *Engine) { e.baseURL = u }
}

// WithMaxSteps overrides the per-turn step bound.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger sets a structured logger for converse diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine implements fiddle.Engine over the wit.ai converse API.
type Engine struct {
	token    string
	actions  fiddle.Actions
	baseURL  string
	maxSteps int
	client   *http.Client
	logger   *slog.Logger
}

var _ fiddle.Engine = (*Engine)(nil)

// New creates an Engine bound to an access token and action mapping.
func New(token string, actions fiddle.Actions, opts ...Option) *Engine {
	e := &Engine{
		token:    token,
		actions:  actions,
		baseURL:  DefaultBaseURL,
		maxSteps: defaultMaxSteps,
		client:   http.DefaultClient,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Factory adapts New to the fiddle.EngineFactory shape, carrying shared
// options into every per-turn engine.
func Factory(opts ...Option) fiddle.EngineFactory {
	return func(token string, actions fiddle.Actions) fiddle.Engine {
		return New(token, actions, opts...)
	}
}

// converseStep is one converse response.
type converseStep struct {
	Type         string         `json:"type"`
	Msg          string         `json:"msg,omitempty"`
	Action       string         `json:"action,omitempty"`
	Entities     map[string]any `json:"entities,omitempty"`
	QuickReplies []string       `json:"quickreplies,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
}

// RunActions drives one conversational turn. The first converse call
// carries the user text; follow-up calls carry only the evolving
// context. Action steps replace the context with the action's return
// value; msg steps route through the send action; stop ends the turn.
func (e *Engine) RunActions(ctx context.Context, sessionID, text string, conv fiddle.Context) (fiddle.Context, error) {
	current := conv
	if current == nil {
		current = fiddle.Context{}
	}
	query := text
	for step := 0; step < e.maxSteps; step++ {
		resp, err := e.converse(ctx, sessionID, query, current)
		if err != nil {
			return nil, err
		}
		query = "" // only the first call carries the user text

		req := fiddle.Request{
			SessionID: sessionID,
			Context:   current,
			Text:      text,
			Entities:  resp.Entities,
		}

		switch resp.Type {
		case "stop":
			return current, nil
		case "msg":
			send, ok := e.actions["send"]
			if !ok {
				return nil, fmt.Errorf("wit: runtime asked to send a message but the script defines no send action")
			}
			res := fiddle.Response{Text: resp.Msg, QuickReplies: resp.QuickReplies}
			if _, err := send(req, &res); err != nil {
				return nil, err
			}
		case "action":
			action, ok := e.actions[resp.Action]
			if !ok {
				return nil, fmt.Errorf("wit: unknown action %q", resp.Action)
			}
			next, err := action(req, nil)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, fmt.Errorf("wit: action %q returned no context", resp.Action)
			}
			current = next
		case "error":
			return nil, fmt.Errorf("wit: converse error: %s", resp.Msg)
		default:
			return nil, fmt.Errorf("wit: unknown converse step type %q", resp.Type)
		}
	}
	return nil, fmt.Errorf("wit: turn exceeded %d steps", e.maxSteps)
}

// converse performs one POST /converse call.
func (e *Engine) converse(ctx context.Context, sessionID, query string, c fiddle.Context) (*converseStep, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("wit: marshal context: %w", err)
	}

	params := url.Values{}
	params.Set("v", apiVersion)
	params.Set("session_id", sessionID)
	if query != "" {
		params.Set("q", query)
	}

	u := e.baseURL + "/converse?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("wit: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.wit."+apiVersion+"+json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	e.logger.Debug("wit: converse", "session", sessionID, "query", query != "")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError(resp)
	}

	var step converseStep
	if err := json.NewDecoder(resp.Body).Decode(&step); err != nil {
		return nil, fmt.Errorf("wit: decode converse response: %w", err)
	}
	return &step, nil
}

// httpError reads a non-success response into an ErrHTTP, surfacing the
// remote error message when the body parses.
func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var remote struct {
		Error string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &remote) == nil {
		msg = remote.Error
	}
	return &fiddle.ErrHTTP{Status: resp.StatusCode, Message: msg}
}
