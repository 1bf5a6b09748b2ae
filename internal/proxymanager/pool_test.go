package proxymanager

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-proxy-rotator/internal/config"
	"go-proxy-rotator/internal/health"
)

// stubHealth disables a fixed set of endpoints.
type stubHealth struct {
	mu       sync.Mutex
	disabled map[string]bool
}

func newStubHealth(disabled ...string) *stubHealth {
	s := &stubHealth{disabled: make(map[string]bool)}
	for _, d := range disabled {
		s.disabled[d] = true
	}
	return s
}

func (s *stubHealth) IsDisabled(proxyURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[proxyURL]
}

var testEndpoints = []string{
	"http://u:p@10.0.0.1:8000",
	"http://u:p@10.0.0.2:8000",
	"http://u:p@10.0.0.3:8000",
	"http://u:p@10.0.0.4:8000",
	"http://u:p@10.0.0.5:8000",
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestSetEndpoints_DedupesAndRandomisesCursor(t *testing.T) {
	pool := NewPool(newStubHealth(), WithRand(rand.New(rand.NewSource(1))))
	pool.SetEndpoints([]string{" http://a:1 ", "", "http://b:2", "http://a:1"})

	assert.Equal(t, []string{"http://a:1", "http://b:2"}, pool.Endpoints())
	assert.Equal(t, 2, pool.Len())

	starts := make(map[string]bool)
	for seed := int64(0); seed < 50; seed++ {
		p := NewPool(newStubHealth(), WithRand(rand.New(rand.NewSource(seed))))
		p.SetEndpoints(testEndpoints)
		first, ok := p.NextRoundRobin()
		require.True(t, ok)
		starts[first] = true
	}
	assert.Greater(t, len(starts), 1, "initial cursor should vary with the random source")
}

func TestNextRoundRobin_EachEndpointOnceInOrder(t *testing.T) {
	pool := NewPool(newStubHealth(), WithRand(rand.New(rand.NewSource(7))))
	pool.SetEndpoints(testEndpoints)

	var got []string
	for range testEndpoints {
		e, ok := pool.NextRoundRobin()
		require.True(t, ok)
		got = append(got, e)
	}

	assert.ElementsMatch(t, testEndpoints, got)
	start := indexOf(testEndpoints, got[0])
	for i, e := range got {
		assert.Equal(t, testEndpoints[(start+i)%len(testEndpoints)], e)
	}

	// The next call wraps to where we began.
	e, ok := pool.NextRoundRobin()
	require.True(t, ok)
	assert.Equal(t, got[0], e)
}

func TestNextRoundRobin_SkipsDisabled(t *testing.T) {
	disabled := newStubHealth(testEndpoints[1], testEndpoints[3])
	pool := NewPool(disabled, WithRand(rand.New(rand.NewSource(3))))
	pool.SetEndpoints(testEndpoints)

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		e, ok := pool.NextRoundRobin()
		require.True(t, ok)
		seen[e]++
	}

	assert.NotContains(t, seen, testEndpoints[1])
	assert.NotContains(t, seen, testEndpoints[3])
	assert.Equal(t, 3, seen[testEndpoints[0]])
	assert.Equal(t, 3, seen[testEndpoints[2]])
	assert.Equal(t, 3, seen[testEndpoints[4]])
}

func TestNextRoundRobin_AllDisabled(t *testing.T) {
	pool := NewPool(newStubHealth(testEndpoints...))
	pool.SetEndpoints(testEndpoints)

	_, ok := pool.NextRoundRobin()
	assert.False(t, ok)
}

func TestNextRoundRobin_Empty(t *testing.T) {
	pool := NewPool(newStubHealth())
	_, ok := pool.NextRoundRobin()
	assert.False(t, ok)

	_, ok = pool.NextRandomUnique(map[string]struct{}{})
	assert.False(t, ok)
}

func TestNextRandomUnique_NoRepeatsUntilExhausted(t *testing.T) {
	pool := NewPool(newStubHealth(), WithRand(rand.New(rand.NewSource(42))))
	pool.SetEndpoints(testEndpoints)

	used := make(map[string]struct{})
	var got []string
	for range testEndpoints {
		e, ok := pool.NextRandomUnique(used)
		require.True(t, ok)
		assert.NotContains(t, got, e)
		got = append(got, e)
	}
	assert.ElementsMatch(t, testEndpoints, got)
	assert.Len(t, used, len(testEndpoints))

	// Exhausted: the set resets and a result is still returned.
	e, ok := pool.NextRandomUnique(used)
	require.True(t, ok)
	assert.Contains(t, testEndpoints, e)
	assert.Len(t, used, 1)
}

func TestNextRandomUnique_SkipsDisabledUntilExhausted(t *testing.T) {
	pool := NewPool(newStubHealth(testEndpoints[0], testEndpoints[1]), WithRand(rand.New(rand.NewSource(9))))
	pool.SetEndpoints(testEndpoints)

	used := make(map[string]struct{})
	for i := 0; i < 3; i++ {
		e, ok := pool.NextRandomUnique(used)
		require.True(t, ok)
		assert.NotEqual(t, testEndpoints[0], e)
		assert.NotEqual(t, testEndpoints[1], e)
	}

	// Everything usable has been tried: reshuffle over the full pool, which
	// may include disabled endpoints.
	e, ok := pool.NextRandomUnique(used)
	require.True(t, ok)
	assert.Contains(t, testEndpoints, e)
}

func TestNextRandomUnique_AllDisabledStillReturns(t *testing.T) {
	pool := NewPool(newStubHealth(testEndpoints...))
	pool.SetEndpoints(testEndpoints)

	e, ok := pool.NextRandomUnique(map[string]struct{}{})
	require.True(t, ok)
	assert.Contains(t, testEndpoints, e)
}

func TestSelect(t *testing.T) {
	pool := NewPool(newStubHealth(), WithRand(rand.New(rand.NewSource(5))))
	pool.SetEndpoints(testEndpoints)

	used := make(map[string]struct{})
	_, ok := pool.Select(config.StrategyRandom, used)
	require.True(t, ok)
	assert.Len(t, used, 1, "random strategy tracks used endpoints")

	_, ok = pool.Select(config.StrategyRoundRobin, used)
	require.True(t, ok)
	assert.Len(t, used, 1, "round-robin does not touch the used set")
}

func TestNextRoundRobin_WithHealthStore(t *testing.T) {
	store := health.NewStore(health.NewMemoryStore())
	pool := NewPool(store, WithRand(rand.New(rand.NewSource(11))))
	pool.SetEndpoints(testEndpoints[:2])

	store.RecordFailure(testEndpoints[0], 407, "auth")
	for i := 0; i < 4; i++ {
		e, ok := pool.NextRoundRobin()
		require.True(t, ok)
		assert.Equal(t, testEndpoints[1], e)
	}
}

func TestNextRoundRobin_ApproximatelyFairUnderConcurrency(t *testing.T) {
	pool := NewPool(newStubHealth(), WithRand(rand.New(rand.NewSource(13))))
	pool.SetEndpoints(testEndpoints)

	const perWorker = 200
	const workers = 5

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				e, ok := pool.NextRoundRobin()
				if !ok {
					continue
				}
				mu.Lock()
				counts[e]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	expected := perWorker * workers / len(testEndpoints)
	for _, e := range testEndpoints {
		assert.InDelta(t, expected, counts[e], float64(expected)/2, "endpoint %s", e)
	}
}
