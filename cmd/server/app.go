package main

import (
	"database/sql"
	"fmt"
	"strings"

	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/database"
	"go-proxy-rotator/internal/executor"
	"go-proxy-rotator/internal/health"
	"go-proxy-rotator/internal/logger"
	"go-proxy-rotator/internal/proxymanager"
	"go-proxy-rotator/internal/proxyservices"
	"go-proxy-rotator/internal/shaper"
)

// app holds the process-wide components, built once per command.
type app struct {
	cfg       *config.Config
	store     *health.Store
	pool      *proxymanager.Pool
	refresher *proxymanager.Refresher
	exec      *executor.Executor
	db        *sql.DB
}

func newApp(cfg *config.Config) (*app, error) {
	l := logger.WithComponent("App")
	a := &app{cfg: cfg}

	// 1. Open the persisted health/pool store
	persister, err := a.openPersister()
	if err != nil {
		return nil, err
	}
	a.store = health.NewStore(persister)
	if err := a.store.Load(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load health store: %w", err)
	}

	// 2. Seed the pool: static list first, persisted list otherwise
	a.pool = proxymanager.NewPool(a.store)
	seed := cfg.ProxyList
	source := "static"
	if len(seed) == 0 {
		seed = a.store.ProxyList()
		source = "persisted"
	}
	a.pool.SetEndpoints(seed)
	l.Info().Str("source", source).Int("count", a.pool.Len()).Msg("Proxy pool seeded")

	// 3. Remote provider, if any
	if cfg.RefreshEnabled() {
		provider, err := proxyservices.NewProvider(cfg.Provider, cfg.RemoteURL, cfg.ProviderAPIKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.refresher = proxymanager.NewRefresher(provider, a.pool, a.store, cfg.FallbackList)
	}

	// 4. Executor
	a.exec = executor.New(cfg, a.pool, a.store, shaper.New(cfg.ConnectionTimeout, cfg.MaxRedirects))

	return a, nil
}

func (a *app) openPersister() (health.Persister, error) {
	switch a.cfg.StoreBackend {
	case config.BackendSQLite:
		path := sqlitePath(a.cfg.StorePath)
		db, err := database.InitDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = db
		return database.NewHealthRepository(db), nil
	default:
		return health.NewFileStore(a.cfg.StorePath)
	}
}

// sqlitePath swaps the default JSON file name for a database file name.
func sqlitePath(path string) string {
	if strings.HasSuffix(path, ".json") {
		return strings.TrimSuffix(path, ".json") + ".db"
	}
	return path
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
