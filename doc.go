// Package fiddle is the engine behind witty-fiddle: a playground for
// writing bot action scripts, chatting with the resulting bot, and
// sharing immutable versions of it.
//
// It provides the building blocks the application shell composes: a
// sandboxed evaluator for user action scripts, a turn runner that binds
// compiled actions to a conversational-AI engine, a session holding the
// live conversation state, and bounded persisted caches for version
// records and composer history.
//
// # Quick Start
//
// Compile a script, wire it to the wit engine, and run a turn through a
// session:
//
//	sandbox := fiddle.NewSandbox()
//	runner := fiddle.NewTurnRunner(sandbox, wit.Factory())
//	history := fiddle.NewHistory(ctx, fiddle.NewCache(store.NewMemory(), 100))
//
//	session := fiddle.NewSession(sandbox, runner, history)
//	session.SetToken(token)
//	session.SetScript(script)
//
//	entries, err := session.Send(ctx, "hello")
//
// # Core Interfaces
//
// The root package defines the contracts the subpackages implement:
//
//   - [Engine] — conversational-AI runtime driving a turn (wit package)
//   - [Observer] — fire-and-forget analytics events (observer package)
//   - store.Backend — persisted entry list under the bounded [Cache]
//
// Scripts run in an isolated interpreter with a constrained require()
// over a fixed capability allow-list; see [Sandbox].
package fiddle
