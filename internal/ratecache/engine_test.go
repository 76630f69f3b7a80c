package ratecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanelian/mitsu/internal/kvstore"
	"github.com/ryanelian/mitsu/internal/lock"
	"github.com/ryanelian/mitsu/internal/quota"
	"github.com/ryanelian/mitsu/internal/upstream"
)

var summerFPRSingleton = upstream.Tuple{Period: "Summer", Hotel: "FloatingPointResort", Room: "SingletonRoom"}

// stubUpstream is a configurable upstream.Client stand-in: it counts batch
// calls, optionally sleeps to simulate latency, and answers only the
// tuples present in its rates map.
type stubUpstream struct {
	mu        sync.Mutex
	rates     map[upstream.Tuple]string
	latency   time.Duration
	batchCall int32
}

func newStubUpstream(rates map[upstream.Tuple]string) *stubUpstream {
	return &stubUpstream{rates: rates}
}

func (s *stubUpstream) FetchBatch(ctx context.Context, requests []upstream.Tuple) upstream.RateMap {
	atomic.AddInt32(&s.batchCall, 1)
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	out := upstream.RateMap{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range requests {
		if rate, ok := s.rates[t]; ok {
			out[t.Period] = map[string]map[string]string{t.Hotel: {t.Room: rate}}
		}
	}
	return out
}

func (s *stubUpstream) FetchSingle(ctx context.Context, t upstream.Tuple) (string, bool) {
	rates := s.FetchBatch(ctx, []upstream.Tuple{t})
	return rates.Get(t)
}

func (s *stubUpstream) calls() int32 { return atomic.LoadInt32(&s.batchCall) }

func newTestEngine(store Store, up UpstreamClient, q *quota.Accountant) *Engine {
	l := lock.New(store.(kvstore.Store))
	cfg := Config{
		CacheTTL:        300 * time.Second,
		RefreshInterval: 120 * time.Second,
		LockTTL:         2 * time.Second,
		LockRetries:     20,
		LockRetryDelay:  10 * time.Millisecond,
	}
	return New(store, l, up, q, cfg, "test", prometheus.NewRegistry())
}

// TestScenarioS1ColdMissThenHit mirrors spec.md §8 S1.
func TestScenarioS1ColdMissThenHit(t *testing.T) {
	store := kvstore.NewFake()
	up := newStubUpstream(map[upstream.Tuple]string{summerFPRSingleton: "12000"})
	q := quota.New(store, 1000)
	engine := newTestEngine(store, up, q)
	ctx := context.Background()

	rate, present, err := engine.GetRate(ctx, summerFPRSingleton)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "12000", rate)
	assert.EqualValues(t, 1, up.calls())

	used, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)

	rate, present, err = engine.GetRate(ctx, summerFPRSingleton)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "12000", rate)
	assert.EqualValues(t, 1, up.calls(), "second request must be served from cache, no new upstream call")

	used, err = q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)
}

// TestScenarioS3QuotaExhausted mirrors spec.md §8 S3.
func TestScenarioS3QuotaExhausted(t *testing.T) {
	store := kvstore.NewFake()
	up := newStubUpstream(map[upstream.Tuple]string{summerFPRSingleton: "12000"})
	q := quota.New(store, 5)
	require.NoError(t, q.Increment(context.Background()))
	require.NoError(t, q.Increment(context.Background()))
	require.NoError(t, q.Increment(context.Background()))
	require.NoError(t, q.Increment(context.Background()))
	require.NoError(t, q.Increment(context.Background())) // used == ceiling

	engine := newTestEngine(store, up, q)
	ctx := context.Background()

	_, _, err := engine.GetRate(ctx, summerFPRSingleton)
	require.Error(t, err)
	su, ok := IsServiceUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNoQuota, su.Reason)
	assert.EqualValues(t, 0, up.calls(), "no upstream call should be made once quota is exhausted")

	used, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, used, "quota counter must not move on a gated request")
}

// TestScenarioS5ConcurrentMissCoalescing mirrors spec.md §8 S5, using
// several independent Engine instances sharing one store to model distinct
// replicas contending on the same distributed lock (not merely one
// process's in-memory singleflight group).
func TestScenarioS5ConcurrentMissCoalescing(t *testing.T) {
	store := kvstore.NewFake()
	up := newStubUpstream(map[upstream.Tuple]string{summerFPRSingleton: "12000"})
	up.latency = 40 * time.Millisecond
	q := quota.New(store, 1000)

	const replicas = 5
	const perReplica = 20
	engines := make([]*Engine, replicas)
	for i := range engines {
		engines[i] = newTestEngine(store, up, q)
	}

	var wg sync.WaitGroup
	results := make([]string, replicas*perReplica)
	errs := make([]error, replicas*perReplica)
	idx := 0
	for r := 0; r < replicas; r++ {
		e := engines[r]
		for j := 0; j < perReplica; j++ {
			wg.Add(1)
			i := idx
			idx++
			go func() {
				defer wg.Done()
				rate, _, err := e.GetRate(context.Background(), summerFPRSingleton)
				results[i] = rate
				errs[i] = err
			}()
		}
	}
	wg.Wait()

	assert.EqualValues(t, 1, up.calls(), "exactly one upstream call must be observed across the whole fleet")

	succeeded := 0
	for i := range results {
		if errs[i] == nil {
			succeeded++
			assert.Equal(t, "12000", results[i])
		}
	}
	assert.Greater(t, succeeded, 0)

	used, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, used, "quota increments exactly once regardless of fan-in")
}

// TestScenarioS4RevalidatorBatch mirrors spec.md §8 S4.
func TestScenarioS4RevalidatorBatch(t *testing.T) {
	store := kvstore.NewFake()
	tuples := []upstream.Tuple{
		{Period: "Summer", Hotel: "FloatingPointResort", Room: "SingletonRoom"},
		{Period: "Winter", Hotel: "FloatingPointResort", Room: "SingletonRoom"},
		{Period: "Autumn", Hotel: "FloatingPointResort", Room: "SingletonRoom"},
	}
	rates := map[upstream.Tuple]string{
		tuples[0]: "12000",
		tuples[1]: "8000",
		tuples[2]: "9000",
	}
	up := newStubUpstream(rates)
	q := quota.New(store, 1000)
	engine := newTestEngine(store, up, q)
	ctx := context.Background()

	for _, tp := range tuples {
		require.NoError(t, store.SAdd(ctx, Registry, EncodeKey(tp)))
	}

	tally, err := engine.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, tally.Updated)
	assert.Equal(t, 0, tally.Errors)
	assert.EqualValues(t, 1, up.calls())

	used, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)

	for _, tp := range tuples {
		raw, err := store.Get(ctx, EncodeKey(tp))
		require.NoError(t, err)
		rate, present, err := decodeRate(raw)
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, rates[tp], rate)
	}
}

// TestScenarioS6RevalidatorEmptyRegistry mirrors spec.md §8 S6.
func TestScenarioS6RevalidatorEmptyRegistry(t *testing.T) {
	store := kvstore.NewFake()
	up := newStubUpstream(nil)
	q := quota.New(store, 1000)
	engine := newTestEngine(store, up, q)

	tally, err := engine.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshTally{Updated: 0, Errors: 0}, tally)
	assert.EqualValues(t, 0, up.calls())
}

func TestRefreshAllLeavesUnknownEntriesUntouched(t *testing.T) {
	store := kvstore.NewFake()
	known := upstream.Tuple{Period: "Summer", Hotel: "FloatingPointResort", Room: "SingletonRoom"}
	unknown := upstream.Tuple{Period: "Winter", Hotel: "NullPointerInn", Room: "AtomicCabin"}
	up := newStubUpstream(map[upstream.Tuple]string{known: "12000"})
	q := quota.New(store, 1000)
	engine := newTestEngine(store, up, q)
	ctx := context.Background()

	require.NoError(t, store.SAdd(ctx, Registry, EncodeKey(known)))
	require.NoError(t, store.SAdd(ctx, Registry, EncodeKey(unknown)))
	require.NoError(t, store.SetWithTTL(ctx, EncodeKey(unknown), mustEncodeRate(t, "stale", true), 300))

	tally, err := engine.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Updated)
	assert.Equal(t, 1, tally.Errors)

	raw, err := store.Get(ctx, EncodeKey(unknown))
	require.NoError(t, err)
	rate, present, err := decodeRate(raw)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "stale", rate, "an entry upstream stayed silent on must be left untouched")
}

func mustEncodeRate(t *testing.T, rate string, present bool) []byte {
	t.Helper()
	b, err := encodeRate(rate, present)
	require.NoError(t, err)
	return b
}

func TestGetRateCachesAbsentForUnknownTuple(t *testing.T) {
	store := kvstore.NewFake()
	unknown := upstream.Tuple{Period: "Spring", Hotel: "SegfaultSuites", Room: "RecursiveSuite"}
	up := newStubUpstream(nil)
	q := quota.New(store, 1000)
	engine := newTestEngine(store, up, q)
	ctx := context.Background()

	rate, present, err := engine.GetRate(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, "", rate)
	assert.EqualValues(t, 1, up.calls())

	// Second call should still be a cache hit (no new upstream call), even
	// though the cached value represents "known absent".
	_, present, err = engine.GetRate(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, present)
	assert.EqualValues(t, 1, up.calls())

	used, err := q.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, used, "quota must not increment on an empty upstream result")
}
