package fiddle

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

// CapabilitySend is the name scripts use to request the send-message
// capability.
const CapabilitySend = "messengerSend"

// DefaultStorageName is the capability name of the injected external
// storage handle.
const DefaultStorageName = "firebase"

// Sandbox evaluates user action scripts in an isolated interpreter.
// The script runs in a fresh runtime per compile with no host globals;
// the only reachable capabilities are a constrained require() over a
// fixed allow-list: the send-message function and a named external
// storage handle.
//
// Scripts must leave a top-level binding named "actions" resolvable,
// holding a mapping of action name to function.
type Sandbox struct {
	storageName   string
	storageHandle any
	logger        *slog.Logger
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithStorage replaces the default inert storage handle. The name is the
// capability scripts pass to require(); the handle is exposed as-is.
func WithStorage(name string, handle any) SandboxOption {
	return func(s *Sandbox) {
		s.storageName = name
		s.storageHandle = handle
	}
}

// WithSandboxLogger sets a structured logger for compile diagnostics.
func WithSandboxLogger(l *slog.Logger) SandboxOption {
	return func(s *Sandbox) { s.logger = l }
}

// NewSandbox creates a Sandbox. By default the storage capability is an
// empty handle named "firebase", matching what persisted fiddles expect.
func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		storageName:   DefaultStorageName,
		storageHandle: map[string]any{},
		logger:        nopLogger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Check compiles the script and discards the result. Used by the
// debounced editor validation.
func (s *Sandbox) Check(script string) error {
	_, err := s.Compile(script, nil)
	return err
}

// Compile evaluates the script and returns its action mapping, with every
// action wrapped for logging. Entries reach sink synchronously, in the
// exact order actions are invoked; a nil sink discards them.
//
// Failures return *ErrUnknownCapability when the script requested a
// capability outside the allow-list, and *ErrScript for everything else.
// Compile never panics into the caller.
//
// The returned actions share one interpreter and must be invoked from a
// single goroutine, which the turn runner guarantees.
func (s *Sandbox) Compile(script string, sink LogSink) (Actions, error) {
	if sink == nil {
		sink = func(LogEntry) {}
	}

	rt := goja.New()
	var capErr *ErrUnknownCapability

	sendFn := func(call goja.FunctionCall) goja.Value {
		sink(IntegrationEntry("send", exportArgs(call)))
		return goja.Undefined()
	}

	requireFn := func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		switch name {
		case CapabilitySend:
			return rt.ToValue(sendFn)
		case s.storageName:
			return rt.ToValue(s.storageHandle)
		default:
			capErr = &ErrUnknownCapability{Name: name}
			panic(rt.NewGoError(capErr))
		}
	}
	if err := rt.Set("require", requireFn); err != nil {
		return nil, &ErrScript{Kind: "Error", Message: err.Error()}
	}

	// The trailing expression makes the script's top-level actions
	// binding the evaluation result.
	v, err := rt.RunString(script + "\n;actions;")
	if capErr != nil {
		// The allow-list check rejects even if the script swallowed the throw.
		return nil, capErr
	}
	if err != nil {
		return nil, scriptError(err)
	}

	obj, ok := v.(*goja.Object)
	if !ok || goja.IsNull(v) || goja.IsUndefined(v) {
		return nil, &ErrScript{Kind: "TypeError", Message: "actions is not an object"}
	}

	actions := Actions{}
	for _, key := range obj.Keys() {
		fn, ok := goja.AssertFunction(obj.Get(key))
		if !ok {
			return nil, &ErrScript{Kind: "TypeError", Message: fmt.Sprintf("actions.%s is not a function", key)}
		}
		actions[key] = s.wrap(rt, key, fn, sink)
	}
	s.logger.Debug("sandbox: compiled", "actions", len(actions))
	return actions, nil
}

// wrap turns a script function into an ActionFunc that logs a bot entry
// before the body runs and augments the request with the fbid duplicate
// of the session id.
func (s *Sandbox) wrap(rt *goja.Runtime, name string, fn goja.Callable, sink LogSink) ActionFunc {
	return func(req Request, res *Response) (Context, error) {
		reqMap := map[string]any{
			"sessionId": req.SessionID,
			"fbid":      req.SessionID,
			"context":   req.Context,
			"text":      req.Text,
			"entities":  req.Entities,
		}
		if reqMap["context"] == nil {
			reqMap["context"] = Context{}
		}

		args := []any{reqMap}
		jsArgs := []goja.Value{rt.ToValue(reqMap)}
		if res != nil {
			resMap := map[string]any{"text": res.Text}
			if len(res.QuickReplies) > 0 {
				resMap["quickreplies"] = res.QuickReplies
			}
			args = append(args, resMap)
			jsArgs = append(jsArgs, rt.ToValue(resMap))
		}

		// The entry is attached before the action itself runs.
		sink(BotEntry(name, args))

		v, err := fn(goja.Undefined(), jsArgs...)
		if err != nil {
			return nil, scriptError(err)
		}
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, nil
		}
		if m, ok := v.Export().(map[string]any); ok {
			return m, nil
		}
		return nil, nil
	}
}

// exportArgs converts a JS argument list into plain Go values for logging.
func exportArgs(call goja.FunctionCall) []any {
	args := make([]any, len(call.Arguments))
	for i, a := range call.Arguments {
		args[i] = a.Export()
	}
	return args
}

// scriptError converts an interpreter error into an *ErrScript carrying
// the underlying error's name and message, rendered as "Kind: message".
func scriptError(err error) error {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			name := obj.Get("name")
			msg := obj.Get("message")
			if name != nil && msg != nil && !goja.IsUndefined(name) {
				return &ErrScript{Kind: name.String(), Message: msg.String()}
			}
		}
		return &ErrScript{Kind: "Error", Message: exc.Value().String()}
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		msg := strings.TrimPrefix(err.Error(), "SyntaxError: ")
		return &ErrScript{Kind: "SyntaxError", Message: msg}
	}

	return &ErrScript{Kind: "Error", Message: err.Error()}
}
