// Package app is the witty-fiddle application shell: the HTTP surface
// over one live session, the debounced script check, and the glue
// between the session, the gist persistence client, and the deploy
// bridge.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	fiddle "github.com/stefb965/witty-fiddle"
	"github.com/stefb965/witty-fiddle/deploy"
	"github.com/stefb965/witty-fiddle/gist"
)

// TokenInfoFunc resolves an access token to its instance display URL.
// An empty URL means the token could not be resolved.
type TokenInfoFunc func(ctx context.Context, token string) (string, error)

// Deps holds injected dependencies for the App.
type Deps struct {
	Session   *fiddle.Session
	Gists     *gist.Client
	Bridge    *deploy.Bridge
	Observer  fiddle.Observer
	TokenInfo TokenInfoFunc

	// DefaultGistID is loaded when a retrieve names no id.
	DefaultGistID string
	// CheckDebounce is the quiet period after the last script edit
	// before the script is checked.
	CheckDebounce time.Duration
}

// App is the witty-fiddle application.
type App struct {
	session   *fiddle.Session
	gists     *gist.Client
	bridge    *deploy.Bridge
	obs       fiddle.Observer
	tokenInfo TokenInfoFunc

	defaultGistID string
	debounce      time.Duration

	// mu guards the loaded-version id and the debounce timer.
	mu         sync.Mutex
	curID      string
	checkTimer *time.Timer
}

// New creates the App.
func New(deps Deps) *App {
	a := &App{
		session:       deps.Session,
		gists:         deps.Gists,
		bridge:        deps.Bridge,
		obs:           deps.Observer,
		tokenInfo:     deps.TokenInfo,
		defaultGistID: deps.DefaultGistID,
		debounce:      deps.CheckDebounce,
	}
	if a.obs == nil {
		a.obs = fiddle.NopObserver{}
	}
	if a.debounce <= 0 {
		a.debounce = 2 * time.Second
	}
	return a
}

// Retrieve loads the version stored under id (the configured default
// when id is empty) into the session and refreshes the deploy payload.
func (a *App) Retrieve(ctx context.Context, id string) (fiddle.Version, error) {
	if id == "" {
		id = a.defaultGistID
	}
	v, err := a.gists.Retrieve(ctx, id)
	if err != nil {
		log.Printf(" [gist] retrieve %s failed: %v", id, err)
		a.session.SetError(fiddle.SlotNetwork, networkErrMsg(err))
		return fiddle.Version{}, err
	}
	a.session.ClearError(fiddle.SlotNetwork)
	a.session.Load(v)

	a.mu.Lock()
	a.curID = id
	a.mu.Unlock()

	a.refreshDeploy()
	a.scheduleCheck()
	log.Printf(" [gist] loaded %s", id)
	return v, nil
}

// Save persists the current session state as a new version. The id of
// the version it was cloned from is appended to the metadata's ancestor
// list, so every save is a fork.
func (a *App) Save(ctx context.Context) (string, error) {
	a.obs.Event(ctx, "startedClone", 1, nil)

	a.mu.Lock()
	parent := a.curID
	a.mu.Unlock()

	meta := a.session.Meta()
	if parent != "" {
		meta.PreviousVersions = append(meta.PreviousVersions, parent)
	}

	id, err := a.gists.Save(ctx, a.session.Token(), a.session.Script(), meta)
	if err != nil {
		log.Printf(" [gist] save failed: %v", err)
		a.session.SetError(fiddle.SlotNetwork, networkErrMsg(err))
		return "", err
	}
	a.session.ClearError(fiddle.SlotNetwork)
	a.session.SetMeta(meta)

	a.mu.Lock()
	a.curID = id
	a.mu.Unlock()

	a.obs.Event(ctx, "finishedClone", 1, map[string]string{"id": id})
	log.Printf(" [gist] saved %s", id)
	return id, nil
}

// SetScript installs a new script, refreshes the deploy payload, and
// restarts the check debounce timer.
func (a *App) SetScript(script string) {
	a.session.SetScript(script)
	a.refreshDeploy()
	a.scheduleCheck()
}

// SetToken installs a new token and refreshes the deploy payload.
func (a *App) SetToken(token string) {
	a.session.SetToken(token)
	a.refreshDeploy()
}

// HistoryUp recalls the previous composer entry. The session serializes
// recall against its own history pushes.
func (a *App) HistoryUp(ctx context.Context) (string, bool) {
	return a.session.HistoryUp(ctx)
}

// HistoryDown recalls the next composer entry.
func (a *App) HistoryDown(ctx context.Context) (string, bool) {
	return a.session.HistoryDown(ctx)
}

// refreshDeploy pushes the current code and token to the deploy bridge.
func (a *App) refreshDeploy() {
	if a.bridge == nil {
		return
	}
	a.bridge.Update(a.session.Script(), a.session.Token())
}

// scheduleCheck restarts the debounce timer. Edits within the quiet
// period push the check out; only the final state is checked.
func (a *App) scheduleCheck() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checkTimer != nil {
		a.checkTimer.Stop()
	}
	a.checkTimer = time.AfterFunc(a.debounce, func() {
		if err := a.session.Check(); err != nil {
			log.Printf(" [check] %v", err)
		}
	})
}

// networkErrMsg extracts a user-facing message from a gist failure.
func networkErrMsg(err error) string {
	var herr *fiddle.ErrHTTP
	if errors.As(err, &herr) && herr.Message != "" {
		return herr.Message
	}
	return "could not reach the gist service"
}

// Run serves the HTTP API until ctx is canceled.
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf(" [http] listening on %s", addr)

	select {
	case <-ctx.Done():
		log.Println(" [http] shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errc:
		return err
	}
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal(addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx, addr)
}
