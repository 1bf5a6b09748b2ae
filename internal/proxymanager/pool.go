package proxymanager

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/logger"
)

// DisabledChecker answers whether a proxy is currently out of rotation.
// *health.Store satisfies it.
type DisabledChecker interface {
	IsDisabled(proxyURL string) bool
}

// Pool is the process-wide proxy list plus its rotation cursor.
//
// The cursor is read and advanced under the mutex, but the health check for
// the chosen endpoint happens outside it, so two concurrent callers may pick
// the same endpoint or skip one. Selection is a fairness heuristic, not a
// lease; callers must not rely on strict round-robin under concurrency.
type Pool struct {
	health DisabledChecker
	log    zerolog.Logger

	mu        sync.Mutex
	endpoints []string
	cursor    int
	rng       *rand.Rand
}

type PoolOption func(*Pool)

// WithRand fixes the random source used for the initial cursor and the
// random strategy.
func WithRand(rng *rand.Rand) PoolOption {
	return func(p *Pool) {
		p.rng = rng
	}
}

func NewPool(health DisabledChecker, opts ...PoolOption) *Pool {
	p := &Pool{
		health: health,
		log:    logger.WithComponent("ProxyPool"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetEndpoints replaces the pool. Blank and duplicate entries are dropped.
// The cursor restarts at a random position so restarts do not all begin by
// hammering the first proxy in the list.
func (p *Pool) SetEndpoints(list []string) {
	seen := make(map[string]struct{}, len(list))
	endpoints := make([]string, 0, len(list))
	for _, e := range list {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		endpoints = append(endpoints, e)
	}

	p.mu.Lock()
	p.endpoints = endpoints
	p.cursor = 0
	if len(endpoints) > 0 {
		p.cursor = p.rng.Intn(len(endpoints))
	}
	cursor := p.cursor
	p.mu.Unlock()

	p.log.Info().Int("count", len(endpoints)).Int("cursor", cursor).Msg("Proxy pool replaced")
}

// Endpoints returns a copy of the pool contents in order.
func (p *Pool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.endpoints...)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// NextRoundRobin returns the next usable endpoint at or after the cursor.
// The cursor advances once per candidate examined, usable or not. After
// len(pool) candidates without a usable one it reports false.
func (p *Pool) NextRoundRobin() (string, bool) {
	p.mu.Lock()
	n := len(p.endpoints)
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.mu.Lock()
		if len(p.endpoints) == 0 {
			p.mu.Unlock()
			return "", false
		}
		idx := p.cursor % len(p.endpoints)
		candidate := p.endpoints[idx]
		p.cursor = (idx + 1) % len(p.endpoints)
		p.mu.Unlock()

		if p.health.IsDisabled(candidate) {
			p.log.Debug().Str("endpoint", endpoint.Mask(candidate)).Msg("Skipping disabled proxy")
			continue
		}
		return candidate, true
	}

	p.log.Warn().Int("pool_size", n).Msg("No usable proxy in round-robin scan")
	return "", false
}

// NextRandomUnique draws uniformly from endpoints that are neither in used
// nor disabled, and adds the result to used. When no such endpoint is left,
// used is cleared and the first element of a fresh shuffle of the whole pool
// is returned, so a non-empty pool always yields an endpoint.
func (p *Pool) NextRandomUnique(used map[string]struct{}) (string, bool) {
	all := p.Endpoints()
	if len(all) == 0 {
		return "", false
	}

	candidates := make([]string, 0, len(all))
	for _, e := range all {
		if _, tried := used[e]; tried {
			continue
		}
		if p.health.IsDisabled(e) {
			continue
		}
		candidates = append(candidates, e)
	}

	var chosen string
	if len(candidates) > 0 {
		p.mu.Lock()
		chosen = candidates[p.rng.Intn(len(candidates))]
		p.mu.Unlock()
	} else {
		for k := range used {
			delete(used, k)
		}
		p.mu.Lock()
		p.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		p.mu.Unlock()
		chosen = all[0]
		p.log.Debug().Int("pool_size", len(all)).Msg("Pool exhausted for this request, reshuffled")
	}

	used[chosen] = struct{}{}
	return chosen, true
}

// Select applies the named strategy. Unknown names fall back to round-robin.
func (p *Pool) Select(strategy string, used map[string]struct{}) (string, bool) {
	if strategy == config.StrategyRandom {
		return p.NextRandomUnique(used)
	}
	return p.NextRoundRobin()
}
