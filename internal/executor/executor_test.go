package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/database/models"
	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/health"
	"go-proxy-rotator/internal/proxymanager"
	"go-proxy-rotator/internal/shaper"
)

// recordingSleep captures backoff durations instead of waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func (r *recordingSleep) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration{}, r.delays...)
}

// statusServer answers every request with the status returned by next and
// counts hits. As a forward proxy it receives absolute-form requests and
// answers them itself.
func statusServer(t *testing.T, next func(n int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		code := next(n)
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, "status %d from %s", code, r.Host)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func always(code int) func(int32) int {
	return func(int32) int { return code }
}

// proxyURLs builds n distinct pool entries that all point at srv.
func proxyURLs(srv *httptest.Server, n int) []string {
	host := strings.TrimPrefix(srv.URL, "http://")
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("http://user%d:pass%d@%s", i, i, host)
	}
	return out
}

type fixture struct {
	exec  *Executor
	pool  *proxymanager.Pool
	store *health.Store
	sleep *recordingSleep
}

func newFixture(t *testing.T, cfg *config.Config, proxies []string) *fixture {
	t.Helper()
	store := health.NewStore(health.NewMemoryStore())
	pool := proxymanager.NewPool(store, proxymanager.WithRand(rand.New(rand.NewSource(1))))
	pool.SetEndpoints(proxies)

	sleep := &recordingSleep{}
	exec := New(cfg, pool, store, shaper.New(5*time.Second, 5),
		WithSleep(sleep.Sleep),
		WithRand(rand.New(rand.NewSource(2))),
	)
	return &fixture{exec: exec, pool: pool, store: store, sleep: sleep}
}

func pooledConfig(strategy string) *config.Config {
	return &config.Config{
		Enabled:       true,
		Strategy:      strategy,
		RetryAttempts: 3,
		MaxRotations:  10,
	}
}

func TestDo_RotationsDoNotConsumeAttempts(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusOK))
	proxy, proxyHits := statusServer(t, func(n int32) int {
		if n <= 4 {
			return http.StatusForbidden
		}
		return http.StatusOK
	})

	proxies := proxyURLs(proxy, 5)
	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), proxies)

	resp, err := f.exec.Get(context.Background(), target.URL+"/page", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 4, resp.Rotations)
	assert.NotEmpty(t, resp.Endpoint)
	assert.Contains(t, resp.Endpoint, ":***@")
	assert.EqualValues(t, 5, proxyHits.Load())
	assert.Zero(t, targetHits.Load())

	records := f.store.Records()
	require.Len(t, records, 4)
	for key, rec := range records {
		assert.Equal(t, models.KindTemporary, rec.Kind, key)
		assert.Equal(t, http.StatusForbidden, rec.StatusCode)
		assert.NotContains(t, key, "pass")
	}
	assert.NotContains(t, records, resp.Endpoint, "the proxy that succeeded stays healthy")

	for _, d := range f.sleep.Delays() {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
	assert.Len(t, f.sleep.Delays(), 4)
}

func TestDo_RotationBudgetRaisesBlocked(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusOK))
	proxy, proxyHits := statusServer(t, always(http.StatusForbidden))

	f := newFixture(t, pooledConfig(config.StrategyRandom), proxyURLs(proxy, 3))

	_, err := f.exec.Get(context.Background(), target.URL, nil)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrBlocked))
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 10, blocked.Rotations)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Contains(t, err.Error(), "temporarily blocking automated access")

	assert.EqualValues(t, 11, proxyHits.Load(), "one initial try plus ten rotations")
	assert.Zero(t, targetHits.Load(), "pool exhaustion never falls back to direct")
	assert.Len(t, f.store.Records(), 3)
}

func TestDo_PoolingDisabledRetriesDirect(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusInternalServerError))
	proxy, proxyHits := statusServer(t, always(http.StatusOK))

	cfg := pooledConfig(config.StrategyRoundRobin)
	cfg.Enabled = false
	f := newFixture(t, cfg, proxyURLs(proxy, 3))

	_, err := f.exec.Get(context.Background(), target.URL, nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "raw error when pooling is off")

	assert.EqualValues(t, 3, targetHits.Load())
	assert.Zero(t, proxyHits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleep.Delays())
}

func TestDo_DirectForbiddenWithPoolingDisabledDoesNotRotate(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusForbidden))

	cfg := pooledConfig(config.StrategyRoundRobin)
	cfg.Enabled = false
	f := newFixture(t, cfg, nil)

	_, err := f.exec.Get(context.Background(), target.URL, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBlocked))
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.EqualValues(t, 3, targetHits.Load())
}

func TestDo_AttemptBudgetFallsBackToDirect(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusOK))
	proxy, proxyHits := statusServer(t, always(http.StatusBadGateway))

	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), proxyURLs(proxy, 3))

	resp, err := f.exec.Get(context.Background(), target.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Endpoint)
	assert.Equal(t, 4, resp.Attempts)
	assert.EqualValues(t, 3, proxyHits.Load())
	assert.EqualValues(t, 1, targetHits.Load())
	assert.Empty(t, f.store.Records(), "502 is not attributed to the proxy")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleep.Delays())
}

func TestDo_FallbackFailureReportsPooledError(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusServiceUnavailable))
	proxy, _ := statusServer(t, always(http.StatusBadGateway))

	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), proxyURLs(proxy, 2))

	_, err := f.exec.Get(context.Background(), target.URL, nil)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err), "original pooled failure, not the direct one")
	assert.Contains(t, err.Error(), "network-level failure")
	assert.EqualValues(t, 1, targetHits.Load())
}

func TestDo_ProxyAuthDisablesPermanently(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusOK))
	proxy, proxyHits := statusServer(t, always(http.StatusProxyAuthRequired))

	proxies := proxyURLs(proxy, 1)
	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), proxies)

	resp, err := f.exec.Get(context.Background(), target.URL, nil)
	require.NoError(t, err)

	// First attempt hits the proxy; the second finds it disabled and goes direct.
	assert.Equal(t, 2, resp.Attempts)
	assert.Empty(t, resp.Endpoint)
	assert.EqualValues(t, 1, proxyHits.Load())
	assert.EqualValues(t, 1, targetHits.Load())

	rec, ok := f.store.Record(proxies[0])
	require.True(t, ok)
	assert.Equal(t, models.KindPermanent, rec.Kind)
	assert.Equal(t, http.StatusProxyAuthRequired, rec.StatusCode)
	assert.Equal(t, []time.Duration{time.Second}, f.sleep.Delays())
}

func TestDo_SuccessfulProxyResponse(t *testing.T) {
	target, _ := statusServer(t, always(http.StatusOK))
	proxy, _ := statusServer(t, always(http.StatusOK))

	proxies := proxyURLs(proxy, 1)
	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), proxies)

	resp, err := f.exec.Get(context.Background(), target.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, endpoint.Mask(proxies[0]), resp.Endpoint)
	assert.Equal(t, 1, resp.Attempts)
	assert.Zero(t, resp.Rotations)
	assert.Contains(t, string(resp.Body), "status 200")
	assert.Empty(t, f.sleep.Delays())
}

func TestDo_CancelledContext(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusOK))

	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.exec.Get(ctx, target.URL, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, targetHits.Load())
}

func TestPost_SendsBodyAndCallerHeaders(t *testing.T) {
	var gotBody, gotUA, gotCT, gotAccept string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusCreated)
	}))
	defer target.Close()

	cfg := pooledConfig(config.StrategyRoundRobin)
	cfg.Enabled = false
	f := newFixture(t, cfg, nil)

	header := http.Header{}
	header.Set("User-Agent", "caller/2.0")
	resp, err := f.exec.Post(context.Background(), target.URL, []byte(`{"q":1}`), "application/json", header)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"q":1}`, gotBody)
	assert.Equal(t, "caller/2.0", gotUA)
	assert.Equal(t, "application/json", gotCT)
	assert.NotEmpty(t, gotAccept, "shaped headers fill what the caller left out")
	assert.Empty(t, header.Get("Content-Type"), "caller header is not mutated")
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, StatusCode(errors.New("dial tcp: refused")))
	assert.Equal(t, 403, StatusCode(&StatusError{Code: 403}))
	assert.Equal(t, 502, StatusCode(fmt.Errorf("wrapped: %w", &StatusError{Code: 502})))
	assert.Equal(t, 502, StatusCode(&ExhaustedError{Err: &StatusError{Code: 502}}))
}

func TestTunnelStatus(t *testing.T) {
	assert.Equal(t, http.StatusProxyAuthRequired, tunnelStatus(errors.New(`Get "https://x": Proxy Authentication Required`)))
	assert.Equal(t, http.StatusForbidden, tunnelStatus(errors.New(`Get "https://x": Forbidden`)))
	assert.Equal(t, 0, tunnelStatus(errors.New("connection reset by peer")))
}

func TestDo_ConcurrentRequestsShareExecutor(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusOK))
	proxy, proxyHits := statusServer(t, always(http.StatusForbidden))

	cfg := pooledConfig(config.StrategyRandom)
	cfg.MaxRotations = 3
	f := newFixture(t, cfg, proxyURLs(proxy, 4))

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.exec.Get(context.Background(), target.URL, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, ErrBlocked, "worker %d", i)
	}
	assert.EqualValues(t, workers*4, proxyHits.Load(), "each request: one try plus three rotations")
	assert.Zero(t, targetHits.Load())

	delays := f.sleep.Delays()
	assert.Len(t, delays, workers*3)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestDo_EmptyPoolSkipsDirectFallback(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusInternalServerError))

	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), nil)

	_, err := f.exec.Get(context.Background(), target.URL, nil)
	require.Error(t, err)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "no proxy was used, so the last direct error is returned as is")
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.EqualValues(t, 3, targetHits.Load(), "three budgeted tries and no extra direct one")
}

func TestDo_AllDisabledRoundRobinSkipsDirectFallback(t *testing.T) {
	target, targetHits := statusServer(t, always(http.StatusInternalServerError))
	proxy, proxyHits := statusServer(t, always(http.StatusOK))

	proxies := proxyURLs(proxy, 2)
	f := newFixture(t, pooledConfig(config.StrategyRoundRobin), proxies)
	for _, p := range proxies {
		f.store.RecordFailure(p, http.StatusProxyAuthRequired, "auth")
	}

	_, err := f.exec.Get(context.Background(), target.URL, nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Zero(t, proxyHits.Load())
	assert.EqualValues(t, 3, targetHits.Load())
}
