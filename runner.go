package fiddle

import (
	"context"
	"log/slog"
)

// Engine is the conversational-AI runtime boundary. Given a user message
// and the prior context, it drives its own multi-step reasoning loop,
// invoking zero or more of the actions it was constructed with, and
// returns the updated context. The wit package provides the production
// implementation.
type Engine interface {
	RunActions(ctx context.Context, sessionID, text string, context Context) (Context, error)
}

// EngineFactory builds an Engine bound to an access token and a compiled
// action mapping. A fresh engine is built per turn because the actions
// carry the turn's log sink.
type EngineFactory func(token string, actions Actions) Engine

// TurnRequest carries everything one conversational turn needs.
type TurnRequest struct {
	Text      string
	Token     string
	SessionID string
	Context   Context
	Script    string
}

// TurnResult is the outcome of a completed turn: the context to install
// for the session and the ordered log of everything that happened.
type TurnResult struct {
	Context Context
	Log     []LogEntry
}

// TurnRunner executes single conversational turns: compile the script
// into a log-capturing action surface, hand it to the engine, collect
// the final context and the turn log.
type TurnRunner struct {
	sandbox *Sandbox
	engines EngineFactory
	logger  *slog.Logger
}

// RunnerOption configures a TurnRunner.
type RunnerOption func(*TurnRunner)

// WithRunnerLogger sets a structured logger for turn diagnostics.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *TurnRunner) { r.logger = l }
}

// NewTurnRunner creates a TurnRunner using sandbox for script compilation
// and engines to reach the AI runtime.
func NewTurnRunner(sandbox *Sandbox, engines EngineFactory, opts ...RunnerOption) *TurnRunner {
	r := &TurnRunner{sandbox: sandbox, engines: engines, logger: nopLogger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunTurn executes exactly one turn. On failure the error is returned
// untouched — no retry — and no partial result is exposed; the caller is
// responsible for not installing a failed turn's context.
func (r *TurnRunner) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	var log []LogEntry
	sink := func(e LogEntry) { log = append(log, e) }

	actions, err := r.sandbox.Compile(req.Script, sink)
	if err != nil {
		return TurnResult{}, err
	}

	engine := r.engines(req.Token, actions)
	r.logger.Debug("turn: running", "session", req.SessionID, "actions", len(actions))

	next, err := engine.RunActions(ctx, req.SessionID, req.Text, req.Context)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Context: next, Log: log}, nil
}
