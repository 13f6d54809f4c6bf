package app

import (
	"encoding/json"
	"log"
	"net/http"

	fiddle "github.com/stefb965/witty-fiddle"
)

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/fiddle", a.handleRetrieve)
	mux.HandleFunc("POST /api/fiddle", a.handleSave)
	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("POST /api/reset", a.handleReset)
	mux.HandleFunc("PUT /api/script", a.handleScript)
	mux.HandleFunc("PUT /api/token", a.handleToken)
	mux.HandleFunc("GET /api/errors", a.handleErrors)
	mux.HandleFunc("GET /api/messages", a.handleMessages)
	mux.HandleFunc("GET /api/history/up", a.handleHistoryUp)
	mux.HandleFunc("GET /api/history/down", a.handleHistoryDown)
	mux.HandleFunc("GET /api/token-info", a.handleTokenInfo)
	if a.bridge != nil {
		mux.Handle("/deploy", a.bridge)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf(" [http] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	a.obs.PageView(r.Context())
	v, err := a.Retrieve(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, networkErrMsg(err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) handleSave(w http.ResponseWriter, r *http.Request) {
	id, err := a.Save(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, networkErrMsg(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	entries, err := a.session.Send(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"context": a.session.Context(),
	})
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	a.session.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": a.session.ID()})
}

func (a *App) handleScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	a.SetScript(req.Code)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	a.SetToken(req.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Errors())
}

func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages := a.session.Messages()
	if messages == nil {
		messages = []fiddle.LogEntry{}
	}
	var chat []fiddle.LogEntry
	for _, m := range messages {
		if fiddle.ForChat(m) {
			chat = append(chat, m)
		}
	}
	if chat == nil {
		chat = []fiddle.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"log":  messages,
		"chat": chat,
	})
}

func (a *App) handleHistoryUp(w http.ResponseWriter, r *http.Request) {
	text, ok := a.HistoryUp(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "ok": ok})
}

func (a *App) handleHistoryDown(w http.ResponseWriter, r *http.Request) {
	text, ok := a.HistoryDown(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "ok": ok})
}

// handleTokenInfo resolves the current token's instance URL. Failures
// render as an empty URL, never as an error.
func (a *App) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	a.obs.Event(r.Context(), "startedSeeStory", 1, nil)
	url := ""
	if a.tokenInfo != nil {
		u, err := a.tokenInfo(r.Context(), a.session.Token())
		if err != nil {
			log.Printf(" [token-info] %v", err)
		} else {
			url = u
		}
	}
	a.obs.Event(r.Context(), "finishedSeeStory", 1, map[string]string{"url": url})
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
