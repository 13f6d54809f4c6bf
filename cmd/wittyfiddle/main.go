package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	fiddle "github.com/stefb965/witty-fiddle"
	"github.com/stefb965/witty-fiddle/deploy"
	"github.com/stefb965/witty-fiddle/gist"
	"github.com/stefb965/witty-fiddle/internal/app"
	"github.com/stefb965/witty-fiddle/internal/config"
	"github.com/stefb965/witty-fiddle/observer"
	"github.com/stefb965/witty-fiddle/store"
	"github.com/stefb965/witty-fiddle/store/file"
	"github.com/stefb965/witty-fiddle/store/postgres"
	"github.com/stefb965/witty-fiddle/store/sqlite"
	"github.com/stefb965/witty-fiddle/wit"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("WITTY_CONFIG"))

	// 2. Storage backends for the gist cache and the composer history
	gistBackend, historyBackend, err := openBackends(cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	gistCache := fiddle.NewCache(gistBackend, cfg.Storage.CacheLimit)
	historyCache := fiddle.NewCache(historyBackend, cfg.Storage.HistoryLimit)

	// 3. Observer
	var obs fiddle.Observer = fiddle.NopObserver{}
	if cfg.Observer.Enabled {
		metrics, shutdown, err := observer.Init(context.Background())
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Printf(" [observer] shutdown: %v", err)
			}
		}()
		obs = metrics
	}

	// 4. Core pipeline: sandbox -> runner -> session
	sandbox := fiddle.NewSandbox()
	runner := fiddle.NewTurnRunner(sandbox, wit.Factory(wit.WithBaseURL(cfg.Wit.BaseURL)))
	history := fiddle.NewHistory(context.Background(), historyCache)
	session := fiddle.NewSession(sandbox, runner, history, fiddle.WithObserver(obs))
	if cfg.Wit.Token != "" {
		session.SetToken(cfg.Wit.Token)
	}

	// 5. Clients and bridge
	gists := gist.New(gistCache, gist.WithBaseURL(cfg.Gist.BaseURL))
	bridge := deploy.New(cfg.Deploy.AllowedOrigins)
	log.Printf(" [deploy] bridge key %s", bridge.Key())

	// 6. App
	a := app.New(app.Deps{
		Session:       session,
		Gists:         gists,
		Bridge:        bridge,
		Observer:      obs,
		DefaultGistID: cfg.Gist.DefaultID,
		CheckDebounce: time.Duration(cfg.Server.CheckDebounceMS) * time.Millisecond,
		TokenInfo: func(ctx context.Context, token string) (string, error) {
			info, err := wit.FetchTokenInfo(ctx, token, wit.WithBaseURL(cfg.Wit.BaseURL))
			if err != nil {
				return "", err
			}
			return wit.InstanceURL(info), nil
		},
	})

	// 7. Run
	log.Fatal(a.RunWithSignal(cfg.Server.Addr))
}

// openBackends builds the persisted stores for the gist cache and the
// composer history from the configured backend kind.
func openBackends(cfg config.StorageConfig) (store.Backend, store.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), store.NewMemory(), nil

	case "file":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, err
		}
		return file.New(filepath.Join(cfg.Dir, "gists.json")),
			file.New(filepath.Join(cfg.Dir, "history.json")), nil

	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(cfg.Dir, "witty.db")
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		gists := sqlite.New(db, "gists")
		history := sqlite.New(db, "history")
		ctx := context.Background()
		if err := gists.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := history.Init(ctx); err != nil {
			return nil, nil, err
		}
		return gists, history, nil

	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		gists := postgres.New(pool, "gists")
		history := postgres.New(pool, "history")
		ctx := context.Background()
		if err := gists.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := history.Init(ctx); err != nil {
			return nil, nil, err
		}
		return gists, history, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
