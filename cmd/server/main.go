package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go-proxy-rotator/internal/api"
	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/logger"
	"go-proxy-rotator/internal/proxymanager"
)

var cfg *config.Config

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "proxy-rotator",
		Short:         "Proxy pool with health tracking and resilient requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Init(cfg.LogLevel, nil)
			return nil
		},
	}

	cmd.AddCommand(newServeCmd(), newFetchCmd(), newRefreshCmd(), newHealthCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API with periodic list refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	// 1. Build components
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Optional startup refresh
	if a.refresher != nil && cfg.RefreshOnStartup {
		if _, err := a.refresher.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Startup refresh failed, continuing with current pool")
		}
	}

	// 3. Start auto-refresh service
	if a.refresher != nil && cfg.RefreshInterval > 0 {
		autoRefresh := proxymanager.NewAutoRefreshService(a.refresher, cfg.RefreshInterval)
		go autoRefresh.Start(ctx)
	}

	// 4. Setup API router
	router := api.SetupRouter(cfg, a.pool, a.store, a.refresher, a.exec)

	// 5. Start API server in goroutine
	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	// 6. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info().Msg("Shutdown signal received, gracefully shutting down...")

	// 7. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down API server")
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Pull the remote proxy list once and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.refresher == nil {
				return fmt.Errorf("no remote provider configured (set PROXY_REMOTE_URL or PROXY_PROVIDER)")
			}
			count, err := a.refresher.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d proxies\n", count)
			return nil
		},
	}
}
