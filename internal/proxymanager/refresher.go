package proxymanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"go-proxy-rotator/internal/logger"
	"go-proxy-rotator/internal/proxyservices"
)

var ErrNoValidProxies = errors.New("provider returned no valid proxies")

// ListSink receives a freshly fetched proxy list for persistence.
// *health.Store satisfies it.
type ListSink interface {
	SetProxyList(list []string)
}

// Refresher replaces the pool contents with the provider's current list.
type Refresher struct {
	provider proxyservices.ListProvider
	pool     *Pool
	sink     ListSink
	fallback []string
	log      zerolog.Logger

	// mu keeps two refreshes from interleaving their pool writes.
	mu sync.Mutex
}

func NewRefresher(provider proxyservices.ListProvider, pool *Pool, sink ListSink, fallback []string) *Refresher {
	return &Refresher{
		provider: provider,
		pool:     pool,
		sink:     sink,
		fallback: append([]string{}, fallback...),
		log:      logger.WithComponent("Refresher"),
	}
}

// Refresh fetches the provider list and, if it holds at least one valid
// proxy, swaps it into the pool and persists it. On failure the pool is left
// alone, except that an empty pool is seeded from the fallback list. The
// error is returned either way.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.provider.FetchList(ctx)
	if err == nil && len(list) == 0 {
		err = ErrNoValidProxies
	}
	if err != nil {
		err = fmt.Errorf("refresh from %s: %w", r.provider.Name(), err)
		r.applyFallback()
		r.log.Error().Err(err).Int("pool_size", r.pool.Len()).Msg("Proxy list refresh failed")
		return 0, err
	}

	r.pool.SetEndpoints(list)
	r.sink.SetProxyList(r.pool.Endpoints())

	count := r.pool.Len()
	r.log.Info().Str("provider", r.provider.Name()).Int("count", count).Msg("Proxy list refreshed")
	return count, nil
}

func (r *Refresher) applyFallback() {
	if len(r.fallback) == 0 || r.pool.Len() > 0 {
		return
	}
	r.pool.SetEndpoints(r.fallback)
	r.log.Warn().Int("count", r.pool.Len()).Msg("Pool empty, using fallback proxy list")
}
