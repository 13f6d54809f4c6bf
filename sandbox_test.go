package fiddle

import (
	"errors"
	"strings"
	"testing"
)

const greetScript = `
var send = require('messengerSend');
var actions = {
  greet: function(request) {
    send({message: {text: "hi"}});
    return request.context;
  }
};
`

func TestSandboxCompileAndInvoke(t *testing.T) {
	var log []LogEntry
	sink := func(e LogEntry) { log = append(log, e) }

	actions, err := NewSandbox().Compile(greetScript, sink)
	if err != nil {
		t.Fatal(err)
	}
	greet, ok := actions["greet"]
	if !ok {
		t.Fatalf("expected greet action, got %v", actions)
	}

	if _, err := greet(Request{SessionID: "s1"}, nil); err != nil {
		t.Fatal(err)
	}

	if len(log) != 2 {
		t.Fatalf("expected 2 log entries, got %d: %v", len(log), log)
	}

	// The bot entry is attached before the action body runs, so it
	// precedes the integration entry produced by send.
	bot := log[0]
	if bot.Type != EntryBot || bot.Payload.Name != "greet" {
		t.Fatalf("expected bot entry for greet, got %+v", bot)
	}
	req, ok := bot.Payload.Args[0].(map[string]any)
	if !ok {
		t.Fatalf("expected request map in bot args, got %T", bot.Payload.Args[0])
	}
	if req["sessionId"] != "s1" || req["fbid"] != "s1" {
		t.Errorf("expected sessionId and fbid both s1, got %v", req)
	}

	integ := log[1]
	if integ.Type != EntryIntegration || integ.Payload.Name != "send" {
		t.Fatalf("expected integration entry for send, got %+v", integ)
	}
	payload, ok := integ.Payload.Args[0].(map[string]any)
	if !ok {
		t.Fatalf("expected payload map, got %T", integ.Payload.Args[0])
	}
	msg, _ := payload["message"].(map[string]any)
	if msg == nil || msg["text"] != "hi" {
		t.Errorf("expected {message:{text:hi}}, got %v", payload)
	}
}

func TestSandboxUnknownCapability(t *testing.T) {
	script := `
var nope = require('filesystem');
var actions = {};
`
	_, err := NewSandbox().Compile(script, nil)
	var capErr *ErrUnknownCapability
	if !errors.As(err, &capErr) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
	if capErr.Name != "filesystem" {
		t.Errorf("expected capability name in error, got %q", capErr.Name)
	}
	if !strings.Contains(capErr.Error(), "filesystem") {
		t.Errorf("error should name the capability: %v", capErr)
	}
}

func TestSandboxSwallowedCapabilityThrowStillRejects(t *testing.T) {
	script := `
try { require('filesystem'); } catch (e) {}
var actions = {};
`
	_, err := NewSandbox().Compile(script, nil)
	var capErr *ErrUnknownCapability
	if !errors.As(err, &capErr) {
		t.Fatalf("expected ErrUnknownCapability despite catch, got %v", err)
	}
}

func TestSandboxScriptErrors(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantKind string
	}{
		{"syntax error", `var actions = {`, "SyntaxError"},
		{"missing actions", `var noActions = 1;`, "ReferenceError"},
		{"thrown error", `throw new TypeError("boom");`, "TypeError"},
		{"actions not an object", `var actions = 42;`, "TypeError"},
		{"action not a function", `var actions = {greet: "hi"};`, "TypeError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSandbox().Compile(tt.script, nil)
			var scriptErr *ErrScript
			if !errors.As(err, &scriptErr) {
				t.Fatalf("expected ErrScript, got %v", err)
			}
			if scriptErr.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s (%v)", tt.wantKind, scriptErr.Kind, scriptErr)
			}
			if !strings.Contains(scriptErr.Error(), tt.wantKind+": ") {
				t.Errorf("error should render as Kind: message, got %q", scriptErr.Error())
			}
		})
	}
}

func TestSandboxHostIsolation(t *testing.T) {
	// Host globals are unreachable; only injected capabilities exist.
	script := `
var actions = {
  probe: function(request) {
    if (typeof process !== 'undefined') throw new Error("process leaked");
    if (typeof fetch !== 'undefined') throw new Error("fetch leaked");
    return {};
  }
};
`
	actions, err := NewSandbox().Compile(script, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := actions["probe"](Request{SessionID: "s1"}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestSandboxActionThrowSurfacesAsScriptError(t *testing.T) {
	script := `
var actions = {
  boom: function(request) { throw new Error("kaput"); }
};
`
	var log []LogEntry
	actions, err := NewSandbox().Compile(script, func(e LogEntry) { log = append(log, e) })
	if err != nil {
		t.Fatal(err)
	}
	_, err = actions["boom"](Request{SessionID: "s1"}, nil)
	var scriptErr *ErrScript
	if !errors.As(err, &scriptErr) {
		t.Fatalf("expected ErrScript from throwing action, got %v", err)
	}
	if scriptErr.Message != "kaput" {
		t.Errorf("expected message kaput, got %q", scriptErr.Message)
	}
	// Entry is logged before the action runs, even when it throws.
	if len(log) != 1 || log[0].Payload.Name != "boom" {
		t.Errorf("expected one bot entry for boom, got %v", log)
	}
}

func TestSandboxSendActionReceivesResponse(t *testing.T) {
	script := `
var send = require('messengerSend');
var actions = {
  send: function(request, response) {
    send({message: {text: response.text}});
  }
};
`
	var log []LogEntry
	actions, err := NewSandbox().Compile(script, func(e LogEntry) { log = append(log, e) })
	if err != nil {
		t.Fatal(err)
	}

	_, err = actions["send"](Request{SessionID: "s1"}, &Response{Text: "hello there"})
	if err != nil {
		t.Fatal(err)
	}

	if len(log) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(log))
	}
	if len(log[0].Payload.Args) != 2 {
		t.Fatalf("expected request and response in bot args, got %d", len(log[0].Payload.Args))
	}
	payload, _ := log[1].Payload.Args[0].(map[string]any)
	msg, _ := payload["message"].(map[string]any)
	if msg == nil || msg["text"] != "hello there" {
		t.Errorf("send should receive the response text, got %v", payload)
	}
}

func TestSandboxStorageCapability(t *testing.T) {
	script := `
var storage = require('firebase');
var actions = {
  note: function(request) { return {seen: storage.app}; }
};
`
	sb := NewSandbox(WithStorage("firebase", map[string]any{"app": "demo"}))
	actions, err := sb.Compile(script, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := actions["note"](Request{SessionID: "s1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ctx["seen"] != "demo" {
		t.Errorf("expected storage handle reachable, got %v", ctx)
	}
}

func TestSandboxCheck(t *testing.T) {
	if err := NewSandbox().Check(greetScript); err != nil {
		t.Errorf("valid script should check clean: %v", err)
	}
	if err := NewSandbox().Check(`var actions = {`); err == nil {
		t.Error("broken script should fail the check")
	}
}
