package proxymanager

import (
	"context"
	"time"

	"go-proxy-rotator/internal/logger"
)

// AutoRefreshService re-pulls the provider list on a fixed interval.
type AutoRefreshService struct {
	refresher *Refresher
	interval  time.Duration
}

func NewAutoRefreshService(refresher *Refresher, interval time.Duration) *AutoRefreshService {
	return &AutoRefreshService{
		refresher: refresher,
		interval:  interval,
	}
}

// Start blocks until ctx is cancelled. Refresh failures are logged by the
// refresher and the loop keeps going.
func (ars *AutoRefreshService) Start(ctx context.Context) {
	l := logger.WithComponent("AutoRefresh")

	if ars.interval <= 0 {
		l.Info().Msg("AutoRefreshService disabled (no interval)")
		return
	}

	ticker := time.NewTicker(ars.interval)
	defer ticker.Stop()

	l.Info().Dur("interval", ars.interval).Msg("AutoRefreshService started")

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("AutoRefreshService stopped")
			return
		case <-ticker.C:
			_, _ = ars.refresher.Refresh(ctx)
		}
	}
}
