package api

import (
	"go-proxy-rotator/internal/api/handlers"
	authMiddleware "go-proxy-rotator/internal/api/middleware"
	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/executor"
	"go-proxy-rotator/internal/health"
	"go-proxy-rotator/internal/proxymanager"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter wires the operator API. refresher may be nil when no remote
// provider is configured.
func SetupRouter(cfg *config.Config, pool *proxymanager.Pool, store *health.Store, refresher *proxymanager.Refresher, exec *executor.Executor) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// API group: basic auth with a password, localhost only without one
	api := e.Group("/api")
	if cfg.APIPassword != "" {
		api.Use(authMiddleware.BasicAuthMiddleware(cfg.APIUsername, cfg.APIPassword))
	} else {
		api.Use(authMiddleware.LoopbackOnlyMiddleware())
	}

	// Create handlers
	proxyHandler := handlers.NewProxyHandler(pool, store)
	refreshHandler := handlers.NewRefreshHandler(refresher)
	fetchHandler := handlers.NewFetchHandler(exec)
	exportHandler := handlers.NewExportHandler(pool, store)

	// Register routes
	api.GET("/proxies", proxyHandler.ListProxies)
	api.GET("/health", proxyHandler.ListHealth)
	api.DELETE("/health", proxyHandler.ClearHealth)
	api.POST("/refresh", refreshHandler.Refresh)
	api.POST("/fetch", fetchHandler.Fetch)
	api.GET("/export", exportHandler.ExportText)

	return e
}
