package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	fiddle "github.com/stefb965/witty-fiddle"
	"github.com/stefb965/witty-fiddle/deploy"
	"github.com/stefb965/witty-fiddle/gist"
	"github.com/stefb965/witty-fiddle/store"
)

const echoScript = `
var send = require('messengerSend');
var actions = {
  send: function (request, response) {
    send({message: {text: response.text}});
    return request.context;
  }
};
`

// echoEngine answers every turn by invoking the send action with the
// user's text and marking the context.
type echoEngine struct {
	actions fiddle.Actions
}

func (e *echoEngine) RunActions(_ context.Context, _ string, text string, conv fiddle.Context) (fiddle.Context, error) {
	if _, err := e.actions["send"](fiddle.Request{Context: conv}, &fiddle.Response{Text: "echo: " + text}); err != nil {
		return nil, err
	}
	next := fiddle.Context{"last": text}
	return next, nil
}

// gistServer is an in-memory snippet host.
type gistServer struct {
	srv    *httptest.Server
	saved  map[string]map[string]any
	nextID string
}

func newGistServer(t *testing.T) *gistServer {
	t.Helper()
	g := &gistServer{saved: map[string]map[string]any{}, nextID: "new-id"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gists", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode save: %v", err)
		}
		body["id"] = g.nextID
		g.saved[g.nextID] = body
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /gists/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, ok := g.saved[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		json.NewEncoder(w).Encode(body)
	})
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

// put stores a retrievable version under id.
func (g *gistServer) put(id, token, script string, meta string) {
	files := map[string]any{
		"wit-token":  map[string]any{"content": token},
		"actions.js": map[string]any{"content": script},
	}
	if meta != "" {
		files["meta.json"] = map[string]any{"content": meta}
	}
	g.saved[id] = map[string]any{"id": id, "files": files}
}

func newTestApp(t *testing.T, g *gistServer) *App {
	t.Helper()
	sandbox := fiddle.NewSandbox()
	runner := fiddle.NewTurnRunner(sandbox, func(_ string, actions fiddle.Actions) fiddle.Engine {
		return &echoEngine{actions: actions}
	})
	history := fiddle.NewHistory(context.Background(), fiddle.NewCache(store.NewMemory(), 10))
	session := fiddle.NewSession(sandbox, runner, history)

	gists := gist.New(fiddle.NewCache(store.NewMemory(), 10), gist.WithBaseURL(g.srv.URL))
	bridge := deploy.New([]string{"https://preview.example"})

	return New(Deps{
		Session:       session,
		Gists:         gists,
		Bridge:        bridge,
		DefaultGistID: "default-id",
		CheckDebounce: 20 * time.Millisecond,
		TokenInfo: func(_ context.Context, token string) (string, error) {
			if token == "" {
				return "", nil
			}
			return "https://wit.ai/user/app", nil
		},
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRetrieveDefault(t *testing.T) {
	g := newGistServer(t)
	g.put("default-id", "tok", echoScript, `{"title":"Starter"}`)
	a := newTestApp(t, g)
	h := a.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/fiddle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	v := decode[fiddle.Version](t, rec)
	if v.Token != "tok" || v.Meta.Title != "Starter" {
		t.Fatalf("version = %+v", v)
	}
	if a.session.Script() != echoScript {
		t.Error("script not installed in session")
	}
}

func TestRetrieveMissingSetsNetworkSlot(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	h := a.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/fiddle?id=absent", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	errs := a.session.Errors()
	if errs[fiddle.SlotNetwork] != "Not Found" {
		t.Fatalf("network slot = %q", errs[fiddle.SlotNetwork])
	}

	// A later successful retrieve clears the slot.
	g.put("default-id", "tok", echoScript, "")
	rec = doJSON(t, h, http.MethodGet, "/api/fiddle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := a.session.Errors()[fiddle.SlotNetwork]; ok {
		t.Error("network slot not cleared")
	}
}

func TestChatTurn(t *testing.T) {
	g := newGistServer(t)
	g.put("default-id", "tok", echoScript, "")
	a := newTestApp(t, g)
	h := a.Handler()

	doJSON(t, h, http.MethodGet, "/api/fiddle", nil)

	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{"text": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[struct {
		Entries []fiddle.LogEntry `json:"entries"`
		Context map[string]any    `json:"context"`
	}](t, rec)

	// user entry, bot entry for the send action, integration entry.
	if len(resp.Entries) != 3 {
		t.Fatalf("entries = %d: %+v", len(resp.Entries), resp.Entries)
	}
	if resp.Entries[0].Type != fiddle.EntryUser || resp.Entries[0].Payload.Text != "hello" {
		t.Errorf("first entry = %+v", resp.Entries[0])
	}
	if resp.Entries[1].Type != fiddle.EntryBot || resp.Entries[1].Payload.Name != "send" {
		t.Errorf("second entry = %+v", resp.Entries[1])
	}
	if resp.Entries[2].Type != fiddle.EntryIntegration {
		t.Errorf("third entry = %+v", resp.Entries[2])
	}
	if resp.Context["last"] != "hello" {
		t.Errorf("context = %+v", resp.Context)
	}

	// The sent text is recallable from composer history.
	rec = doJSON(t, h, http.MethodGet, "/api/history/up", nil)
	up := decode[struct {
		Text string `json:"text"`
		OK   bool   `json:"ok"`
	}](t, rec)
	if !up.OK || up.Text != "hello" {
		t.Errorf("history up = %+v", up)
	}
}

func TestChatWithoutText(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	rec := doJSON(t, a.Handler(), http.MethodPost, "/api/chat", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSaveClonesWithAncestry(t *testing.T) {
	g := newGistServer(t)
	g.put("default-id", "tok", echoScript, `{"title":"Starter"}`)
	a := newTestApp(t, g)
	h := a.Handler()

	doJSON(t, h, http.MethodGet, "/api/fiddle", nil)

	rec := doJSON(t, h, http.MethodPost, "/api/fiddle", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[map[string]string](t, rec)
	if created["id"] != "new-id" {
		t.Fatalf("id = %q", created["id"])
	}

	// The saved snippet's metadata names the version it was cloned from.
	saved := g.saved["new-id"]
	files := saved["files"].(map[string]any)
	metaRaw := files["meta.json"].(map[string]any)["content"].(string)
	var meta fiddle.Meta
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Title != "Starter" {
		t.Errorf("title = %q", meta.Title)
	}
	if len(meta.PreviousVersions) != 1 || meta.PreviousVersions[0] != "default-id" {
		t.Errorf("previousVersions = %v", meta.PreviousVersions)
	}
}

func TestScriptUpdateDebouncedCheck(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	h := a.Handler()

	rec := doJSON(t, h, http.MethodPut, "/api/script", map[string]string{"code": "var actions = {"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	// Within the quiet period nothing is checked yet.
	if _, ok := a.session.Errors()[fiddle.SlotCode]; ok {
		t.Fatal("check ran before the debounce elapsed")
	}

	waitFor(t, func() bool {
		_, ok := a.session.Errors()[fiddle.SlotCode]
		return ok
	})

	// Fixing the script clears the slot after the next quiet period.
	doJSON(t, h, http.MethodPut, "/api/script", map[string]string{"code": "var actions = {};"})
	waitFor(t, func() bool {
		_, ok := a.session.Errors()[fiddle.SlotCode]
		return !ok
	})
}

func TestScriptEditsRestartDebounce(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)

	// Rapid edits: only the final script is checked.
	a.SetScript("var actions = {")
	a.SetScript("var actions = {};")
	waitFor(t, func() bool {
		// Give the timer a chance to run, then confirm no code error.
		time.Sleep(30 * time.Millisecond)
		_, ok := a.session.Errors()[fiddle.SlotCode]
		return !ok
	})
}

func TestTokenUpdateRefreshesDeploy(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	h := a.Handler()

	doJSON(t, h, http.MethodPut, "/api/script", map[string]string{"code": "var actions = {};"})
	doJSON(t, h, http.MethodPut, "/api/token", map[string]string{"token": "tok-2"})

	p, ok := a.bridge.Authorize(a.bridge.Key(), "https://preview.example")
	if !ok {
		t.Fatal("expected payload")
	}
	if p.Code != "var actions = {};" || p.Token != "tok-2" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestResetIssuesNewSession(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	h := a.Handler()

	before := a.session.ID()
	rec := doJSON(t, h, http.MethodPost, "/api/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[map[string]string](t, rec)
	if resp["sessionId"] == "" || resp["sessionId"] == before {
		t.Fatalf("sessionId = %q, want a fresh id", resp["sessionId"])
	}
}

func TestTokenInfo(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	h := a.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/token-info", nil)
	resp := decode[map[string]string](t, rec)
	if resp["url"] != "" {
		t.Fatalf("url = %q, want empty without a token", resp["url"])
	}

	doJSON(t, h, http.MethodPut, "/api/token", map[string]string{"token": "tok"})
	rec = doJSON(t, h, http.MethodGet, "/api/token-info", nil)
	resp = decode[map[string]string](t, rec)
	if resp["url"] != "https://wit.ai/user/app" {
		t.Fatalf("url = %q", resp["url"])
	}
}

// recordingObserver captures event names in order.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) Event(_ context.Context, name string, _ int64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingObserver) PageView(context.Context) {}

func (r *recordingObserver) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestTokenInfoEmitsSeeStoryEvents(t *testing.T) {
	g := newGistServer(t)
	a := newTestApp(t, g)
	rec := &recordingObserver{}
	a.obs = rec
	h := a.Handler()

	doJSON(t, h, http.MethodPut, "/api/token", map[string]string{"token": "tok"})
	doJSON(t, h, http.MethodGet, "/api/token-info", nil)

	got := rec.names()
	if len(got) != 2 || got[0] != "startedSeeStory" || got[1] != "finishedSeeStory" {
		t.Fatalf("events = %v, want startedSeeStory then finishedSeeStory", got)
	}
}

func TestSaveEmitsCloneEvents(t *testing.T) {
	g := newGistServer(t)
	g.put("default-id", "tok", echoScript, "")
	a := newTestApp(t, g)
	rec := &recordingObserver{}
	a.obs = rec
	h := a.Handler()

	doJSON(t, h, http.MethodGet, "/api/fiddle", nil)
	doJSON(t, h, http.MethodPost, "/api/fiddle", nil)

	got := rec.names()
	if len(got) != 2 || got[0] != "startedClone" || got[1] != "finishedClone" {
		t.Fatalf("events = %v, want startedClone then finishedClone", got)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
