package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Wit      WitConfig      `toml:"wit"`
	Gist     GistConfig     `toml:"gist"`
	Storage  StorageConfig  `toml:"storage"`
	Deploy   DeployConfig   `toml:"deploy"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr            string `toml:"addr"`
	CheckDebounceMS int    `toml:"check_debounce_ms"`
}

type WitConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

type GistConfig struct {
	BaseURL   string `toml:"base_url"`
	DefaultID string `toml:"default_id"`
}

type StorageConfig struct {
	// Backend selects where caches persist: memory, file, sqlite, postgres.
	Backend      string `toml:"backend"`
	Dir          string `toml:"dir"`
	Path         string `toml:"path"`
	PostgresDSN  string `toml:"postgres_dsn"`
	CacheLimit   int    `toml:"cache_limit"`
	HistoryLimit int    `toml:"history_limit"`
}

type DeployConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", CheckDebounceMS: 2000},
		Wit:    WitConfig{BaseURL: "https://api.wit.ai"},
		Gist: GistConfig{
			BaseURL:   "https://api.github.com",
			DefaultID: "5a387f6ccb4be4a1f77f2113747a558a",
		},
		Storage: StorageConfig{
			Backend:      "file",
			Dir:          "witty-data",
			CacheLimit:   100,
			HistoryLimit: 100,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "witty.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("WITTY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WITTY_WIT_TOKEN"); v != "" {
		cfg.Wit.Token = v
	}
	if v := os.Getenv("WITTY_WIT_BASE_URL"); v != "" {
		cfg.Wit.BaseURL = v
	}
	if v := os.Getenv("WITTY_GIST_BASE_URL"); v != "" {
		cfg.Gist.BaseURL = v
	}
	if v := os.Getenv("WITTY_GIST_DEFAULT_ID"); v != "" {
		cfg.Gist.DefaultID = v
	}
	if v := os.Getenv("WITTY_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("WITTY_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if os.Getenv("WITTY_OBSERVER_ENABLED") == "true" || os.Getenv("WITTY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
