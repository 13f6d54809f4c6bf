package fiddle

import (
	"context"
	"log/slog"
	"sync"
)

// Error slots on session state. Each asynchronous boundary writes one
// slot; nothing propagates uncaught.
const (
	SlotCode    = "code"    // script failed the debounced check — rendered next to the editor
	SlotAPI     = "api"     // turn failed — rendered in the dismissable panel
	SlotNetwork = "network" // save/retrieve failed
)

// genericTurnErr is shown when a failed turn produced no message.
const genericTurnErr = "Wit failed to send actions"

// Session owns the live conversation state: the message log, the
// per-session-id context store, the error slots, and the current script
// and token. All access is serialized through one mutex, the in-process
// analog of the original event-loop exclusivity.
//
// Overlapping turns are tolerated: each Send captures a generation
// counter, and a turn that completes after a newer turn, a reset, or a
// token change has bumped the generation is dropped instead of
// installing a stale context.
type Session struct {
	mu       sync.Mutex
	sandbox  *Sandbox
	runner   *TurnRunner
	history  *History
	obs      Observer
	logger   *slog.Logger
	id       string
	gen      uint64
	token    string
	script   string
	meta     Meta
	messages []LogEntry
	contexts map[string]Context
	errs     map[string]string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithObserver sets the analytics observer.
func WithObserver(o Observer) SessionOption {
	return func(s *Session) { s.obs = o }
}

// WithSessionLogger sets a structured logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession creates an empty session with a fresh session id.
func NewSession(sandbox *Sandbox, runner *TurnRunner, history *History, opts ...SessionOption) *Session {
	s := &Session{
		sandbox:  sandbox,
		runner:   runner,
		history:  history,
		obs:      NopObserver{},
		logger:   nopLogger,
		id:       NewID(),
		contexts: map[string]Context{},
		errs:     map[string]string{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Token returns the current access token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Script returns the current action script.
func (s *Session) Script() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script
}

// Meta returns the current version metadata.
func (s *Session) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Messages returns the full message log, oldest first.
func (s *Session) Messages() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.messages))
	copy(out, s.messages)
	return out
}

// ChatMessages returns only the entries that belong in the chat
// transcript (user and integration entries).
func (s *Session) ChatMessages() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LogEntry
	for _, m := range s.messages {
		if ForChat(m) {
			out = append(out, m)
		}
	}
	return out
}

// Context returns the conversation context of the current session id.
func (s *Session) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[s.id]; ok {
		return c
	}
	return Context{}
}

// Errors returns a copy of the error slots. Empty slots are absent.
func (s *Session) Errors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.errs))
	for k, v := range s.errs {
		out[k] = v
	}
	return out
}

// SetError records a message in an error slot. The shell uses it for
// failures that happen outside the session's own operations, like a
// save or retrieve going wrong.
func (s *Session) SetError(slot, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[slot] = msg
}

// ClearError empties an error slot.
func (s *Session) ClearError(slot string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errs, slot)
}

// SetScript replaces the live script. The debounced check is the
// caller's concern (see internal/app); the session only records it.
func (s *Session) SetScript(script string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// SetMeta replaces the version metadata.
func (s *Session) SetMeta(meta Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// SetToken installs a new access token. A changed token resets the
// session id, the message log, the error slots, and the context — but
// not the script. Setting the same token is a no-op.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == s.token {
		return
	}
	s.token = token
	s.resetLocked()
}

// Load installs a retrieved version wholesale: script, token, metadata,
// and a fresh conversation.
func (s *Session) Load(v Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = v.Script
	s.token = v.Token
	s.meta = v.Meta
	s.resetLocked()
}

// Reset starts a fresh conversation: new session id, empty message log,
// cleared error slots. The script, token, and metadata survive.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.gen++
	s.id = NewID()
	s.messages = nil
	s.errs = map[string]string{}
}

// Check validates the current script and records the outcome in the
// code error slot.
func (s *Session) Check() error {
	s.mu.Lock()
	script := s.script
	s.mu.Unlock()

	err := s.sandbox.Check(script)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errs[SlotCode] = err.Error()
		return err
	}
	delete(s.errs, SlotCode)
	return nil
}

// Send runs one conversational turn with text. The user entry is
// appended immediately; on completion the turn's log entries are
// appended, the session context is replaced wholesale, and the text is
// pushed onto the composer history. Failures land in the api error slot
// and leave the prior context uninstalled — though the stored map is
// handed to the script by reference, so an action that mutates
// request.context in place writes through to it, matching how browser
// fiddles behaved.
//
// Returns the entries this turn appended. A turn superseded by a newer
// turn, reset, or token change is dropped silently and returns nothing.
func (s *Session) Send(ctx context.Context, text string) ([]LogEntry, error) {
	s.obs.Event(ctx, "sentText", 1, nil)

	s.mu.Lock()
	s.gen++ // newer turns supersede any still in flight
	id, gen := s.id, s.gen
	token, script := s.token, s.script
	turnCtx := s.contexts[id]
	if turnCtx == nil {
		turnCtx = Context{}
	}
	user := UserEntry(text)
	s.messages = append(s.messages, user)
	s.mu.Unlock()

	res, err := s.runner.RunTurn(ctx, TurnRequest{
		Text:      text,
		Token:     token,
		SessionID: id,
		Context:   turnCtx,
		Script:    script,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		// A newer turn or a reset superseded this one.
		s.logger.Debug("session: stale turn dropped", "session", id)
		return nil, nil
	}

	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = genericTurnErr
		}
		s.errs[SlotAPI] = msg
		return nil, err
	}
	delete(s.errs, SlotAPI)

	s.messages = append(s.messages, res.Log...)
	s.contexts[id] = res.Context
	if pushErr := s.history.Push(ctx, text); pushErr != nil {
		s.logger.Warn("session: history push failed", "error", pushErr)
	}

	entries := make([]LogEntry, 0, len(res.Log)+1)
	entries = append(entries, user)
	entries = append(entries, res.Log...)
	return entries, nil
}

// HistoryUp recalls the previous composer entry. Recall shares the
// session mutex with Send's history push, so the cursor is never touched
// by two operations at once.
func (s *Session) HistoryUp(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Up(ctx)
}

// HistoryDown recalls the next composer entry.
func (s *Session) HistoryDown(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Down(ctx)
}
