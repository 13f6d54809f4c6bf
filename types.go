package fiddle

// --- Conversation types ---

// Context is the per-session conversation context the runtime threads through
// a turn. It is opaque to the host: actions read and replace it wholesale.
type Context = map[string]any

// Request is the first argument every action receives. FBID duplicates
// SessionID under the field name the messenger backend expects.
type Request struct {
	SessionID string         `json:"sessionId"`
	FBID      string         `json:"fbid,omitempty"`
	Context   Context        `json:"context"`
	Text      string         `json:"text,omitempty"`
	Entities  map[string]any `json:"entities,omitempty"`
}

// Response is the second argument of send-type actions: the outgoing
// message payload chosen by the runtime.
type Response struct {
	Text         string   `json:"text"`
	QuickReplies []string `json:"quickreplies,omitempty"`
}

// --- Turn log ---

// Log entry types. Entries are immutable once appended and are never
// reordered or deduplicated within a turn.
const (
	EntryUser        = "user"        // text the user typed
	EntryBot         = "bot"         // an action the runtime invoked
	EntryIntegration = "integration" // a send-capability call made by an action
)

// LogEntry is one record in a turn log.
type LogEntry struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

// Payload carries the entry body. Text is set for user entries;
// Name and Args for bot and integration entries.
type Payload struct {
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Args []any  `json:"args,omitempty"`
}

// UserEntry builds a user-message log entry.
func UserEntry(text string) LogEntry {
	return LogEntry{Type: EntryUser, Payload: Payload{Text: text}}
}

// BotEntry builds a bot-action log entry.
func BotEntry(name string, args []any) LogEntry {
	return LogEntry{Type: EntryBot, Payload: Payload{Name: name, Args: args}}
}

// IntegrationEntry builds an integration-event log entry.
func IntegrationEntry(name string, args []any) LogEntry {
	return LogEntry{Type: EntryIntegration, Payload: Payload{Name: name, Args: args}}
}

// ForChat reports whether an entry belongs in the chat transcript
// (as opposed to the execution log, which shows everything).
func ForChat(e LogEntry) bool {
	return e.Type == EntryUser || e.Type == EntryIntegration
}

// LogSink receives log entries in strict invocation order during a turn.
type LogSink func(LogEntry)

// --- Actions ---

// ActionFunc is one callable bot action. Send-type actions receive a
// non-nil res; the returned context replaces the session context for
// action-type steps and is ignored otherwise.
type ActionFunc func(req Request, res *Response) (Context, error)

// Actions maps action names to callables, as produced by Sandbox.Compile.
type Actions map[string]ActionFunc

// --- Persisted versions ---

// Meta is the user-editable metadata attached to a persisted version.
// PreviousVersions is the ordered list of ancestor version ids.
type Meta struct {
	Title            string   `json:"title,omitempty"`
	PreviousVersions []string `json:"previousVersions,omitempty"`
}

// Version is one immutable persisted (token, script, metadata) triple.
// The id is assigned by the snippet host at save time; a new edit always
// produces a new id.
type Version struct {
	Script string `json:"code"`
	Token  string `json:"token"`
	Meta   Meta   `json:"meta"`
}
