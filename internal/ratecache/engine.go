// Package ratecache implements spec.md C5 (the rate cache engine) and C6
// (the revalidator loop that drives its batch refresh). It is the direct
// generalization of the teacher's (github.com/stumble/dcache) GetWithTtl:
// a fast KV read, a singleflight-guarded critical section, a distributed
// lock in place of the teacher's inline SetNX retry loop, and an upstream
// fetch in place of the teacher's caller-supplied ReadFunc — plus a key
// registry and batch revalidator, which the teacher's open key space has
// no need for but this system's bounded 36-tuple domain does.
package ratecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ryanelian/mitsu/internal/lock"
	"github.com/ryanelian/mitsu/internal/quota"
	"github.com/ryanelian/mitsu/internal/upstream"
)

// Reason distinguishes the two flavors of ServiceUnavailable spec.md §7
// names.
type Reason string

const (
	ReasonNoQuota        Reason = "no_quota"
	ReasonLockUnavailable Reason = "lock_unavailable"
)

// ErrServiceUnavailable is returned by GetRate when correctness cannot be
// guaranteed without exceeding the quota or waiting indefinitely on a
// contended lock. Cache-plane read/write failures and upstream failures are
// absorbed internally per spec.md §4.5.4; GetRate can still return other
// errors from the critical section (a lock-store transport error, a
// cancelled context, or a rate-encoding failure), which callers (C7) also
// map to 503.
type ErrServiceUnavailable struct {
	Reason Reason
}

func (e *ErrServiceUnavailable) Error() string {
	return fmt.Sprintf("ratecache: service unavailable (%s)", e.Reason)
}

// Store is the subset of kvstore.Store the engine talks to directly (the
// registry and the cached-rate entries; lock and quota are each handed the
// full kvstore.Store).
type Store interface {
	Get(ctx context.Context, k string) ([]byte, error)
	SetWithTTL(ctx context.Context, k string, v []byte, ttlSeconds int64) error
	SAdd(ctx context.Context, s string, member string) error
	SMembers(ctx context.Context, s string) ([]string, error)
}

// Config bundles the engine's tunables (spec.md §3 Configuration).
type Config struct {
	CacheTTL        time.Duration // T_c, default 300s
	RefreshInterval time.Duration // T_r, default 120s
	LockTTL         time.Duration // T_l, default 30s
	LockRetries     int           // default 2, per spec.md §4.5.1 step 4
	LockRetryDelay  time.Duration
}

// DefaultConfig returns the defaults named in spec.md §3.
func DefaultConfig() Config {
	return Config{
		CacheTTL:        300 * time.Second,
		RefreshInterval: 120 * time.Second,
		LockTTL:         30 * time.Second,
		LockRetries:     2,
		LockRetryDelay:  100 * time.Millisecond,
	}
}

// UpstreamClient is the subset of upstream.Client the engine depends on.
type UpstreamClient interface {
	FetchSingle(ctx context.Context, t upstream.Tuple) (string, bool)
	FetchBatch(ctx context.Context, requests []upstream.Tuple) upstream.RateMap
}

// Engine is spec.md C5. It holds no cached values in process memory (per
// §9's "Global state" design note) — every field below is either immutable
// configuration or a handle to shared remote state.
type Engine struct {
	store    Store
	lock     *lock.Lock
	upstream UpstreamClient
	quota    *quota.Accountant
	cfg      Config
	group    singleflight.Group
	metrics  *metricSet
}

// New constructs an Engine. namespace prefixes the Prometheus metric names
// (e.g. "mitsu"); reg may be nil to skip registration.
func New(store Store, l *lock.Lock, up UpstreamClient, q *quota.Accountant, cfg Config, namespace string, reg prometheus.Registerer) *Engine {
	return &Engine{
		store:    store,
		lock:     l,
		upstream: up,
		quota:    q,
		cfg:      cfg,
		metrics:  newMetricSet(namespace, reg),
	}
}

// RefreshTally is the {updated, errors} pair spec.md §4.5.2 returns.
type RefreshTally struct {
	Updated int
	Errors  int
}

// GetRate implements spec.md §4.5.1. Its precondition is that period/hotel/
// room are already validated against the enumerated domain; it is the
// caller's (C7's) job to reject anything else with a 400 before this is
// ever called.
func (e *Engine) GetRate(ctx context.Context, t upstream.Tuple) (string, bool, error) {
	k := EncodeKey(t)

	// Step 2: fast read, no lock held.
	if rate, present, ok := e.fastGet(ctx, k); ok {
		e.observeHit(sourceRedis)
		return rate, present, nil
	}

	// Step 3: advisory quota gate, avoids lock traffic when saturated.
	if hasQuota, err := e.quota.HasRemaining(ctx); err == nil && !hasQuota {
		return "", false, &ErrServiceUnavailable{Reason: ReasonNoQuota}
	}

	// Process-local coalescing ahead of the distributed lock: concurrent
	// callers in this replica for the same K share one critical section,
	// exactly as the teacher's c.group.Do(lockKey(key), ...) does.
	type result struct {
		rate    string
		present bool
	}
	started := time.Now()
	v, err, _ := e.group.Do(k, func() (any, error) {
		r, present, err := e.fillOnce(ctx, t, k)
		return result{rate: r, present: present}, err
	})
	if err != nil {
		return "", false, err
	}
	res := v.(result)
	e.observeHit(sourceUpstream)
	e.metrics.Latency.WithLabelValues(sourceUpstream).Observe(float64(time.Since(started).Milliseconds()))
	return res.rate, res.present, nil
}

// fastGet performs spec.md step 2 / step 4a: a read-only lookup that takes
// no lock of its own (step 2 runs it unlocked, step 4a inside the
// distributed lock). A transport failure or absent key is treated uniformly as "no
// value yet" (ok=false) per spec.md §4.5.4.
func (e *Engine) fastGet(ctx context.Context, k string) (rate string, present bool, ok bool) {
	raw, err := e.store.Get(ctx, k)
	if err != nil {
		return "", false, false
	}
	rate, present, err = decodeRate(raw)
	if err != nil {
		log.Warn().Err(err).Str("key", k).Msg("ratecache: corrupt cache entry treated as miss")
		return "", false, false
	}
	return rate, present, true
}

// fillOnce runs spec.md §4.5.1 step 4 under the distributed lock: the
// double-check re-read, the upstream fetch, the quota increment, the
// write-through, and the registry insertion.
func (e *Engine) fillOnce(ctx context.Context, t upstream.Tuple, k string) (string, bool, error) {
	type filled struct {
		rate    string
		present bool
	}

	v, held, err := lock.WithLock[filled](ctx, e.lock, k, e.cfg.LockTTL, e.cfg.LockRetries, e.cfg.LockRetryDelay,
		func(ctx context.Context) (filled, error) {
			// 4a. Double-check under the lock: another replica may have
			// filled K while we were waiting to acquire.
			if rate, present, ok := e.fastGet(ctx, k); ok {
				return filled{rate: rate, present: present}, nil
			}

			// 4b.
			rate, present := e.upstream.FetchSingle(ctx, t)

			// 4c. Increment only on a successful, non-empty result.
			if present {
				if err := e.quota.Increment(ctx); err != nil {
					log.Warn().Err(err).Msg("ratecache: quota increment failed")
					e.metrics.Error.WithLabelValues(errWhenUpstream).Inc()
				}
			}

			// 4d. Write through even if absent, to dampen repeated
			// upstream attempts on unknown tuples (spec.md §9 open
			// question 1).
			encoded, encErr := encodeRate(rate, present)
			if encErr != nil {
				return filled{}, fmt.Errorf("ratecache: %w", encErr)
			}
			if err := e.store.SetWithTTL(ctx, k, encoded, int64(e.cfg.CacheTTL.Seconds())); err != nil {
				// Transport failure on write is logged, not fatal: the
				// caller still gets the freshly fetched rate (§4.5.4).
				log.Warn().Err(err).Str("key", k).Msg("ratecache: cache write failed")
				e.metrics.Error.WithLabelValues(errWhenCacheWrite).Inc()
			}

			// 4e. Registry insertion immediately follows the write, with
			// no intervening lock release (spec.md's registry-consistency
			// invariant) — both happen inside this same WithLock body.
			if err := e.store.SAdd(ctx, Registry, k); err != nil {
				log.Warn().Err(err).Str("key", k).Msg("ratecache: registry insert failed")
				e.metrics.Error.WithLabelValues(errWhenRegistryWrite).Inc()
			}

			return filled{rate: rate, present: present}, nil
		})
	if err != nil {
		return "", false, err
	}
	if !held {
		// Step 5: acquire exhausted its retries.
		return "", false, &ErrServiceUnavailable{Reason: ReasonLockUnavailable}
	}
	return v.rate, v.present, nil
}

func (e *Engine) observeHit(source string) {
	e.metrics.Hit.WithLabelValues(source).Inc()
}

// RefreshAll implements spec.md §4.5.2: it reads the registry, asks
// upstream for every registered tuple in one batch call, increments the
// quota once for the whole batch, and writes back every rate upstream
// actually answered for. Entries upstream stayed silent on are left
// untouched; they expire naturally.
func (e *Engine) RefreshAll(ctx context.Context) (RefreshTally, error) {
	keys, err := e.store.SMembers(ctx, Registry)
	if err != nil {
		return RefreshTally{}, fmt.Errorf("ratecache: refresh: read registry: %w", err)
	}
	if len(keys) == 0 {
		return RefreshTally{}, nil
	}

	type pending struct {
		key   string
		tuple upstream.Tuple
	}
	requests := make([]pending, 0, len(keys))
	tally := RefreshTally{}
	for _, k := range keys {
		t, err := DecodeKey(k)
		if err != nil {
			log.Error().Err(err).Str("key", k).Msg("ratecache: refresh: malformed registry key")
			e.metrics.Error.WithLabelValues(errWhenRefreshDecode).Inc()
			tally.Errors++
			continue
		}
		requests = append(requests, pending{key: k, tuple: t})
	}
	if len(requests) == 0 {
		return tally, nil
	}

	tuples := make([]upstream.Tuple, len(requests))
	for i, p := range requests {
		tuples[i] = p.tuple
	}

	rates := e.upstream.FetchBatch(ctx, tuples)
	if len(rates) == 0 {
		tally.Errors += len(requests)
		return tally, nil
	}

	if err := e.quota.Increment(ctx); err != nil {
		log.Warn().Err(err).Msg("ratecache: refresh: quota increment failed")
	}

	for _, p := range requests {
		rate, ok := rates.Get(p.tuple)
		if !ok {
			tally.Errors++
			continue
		}
		encoded, err := encodeRate(rate, true)
		if err != nil {
			tally.Errors++
			continue
		}
		if err := e.store.SetWithTTL(ctx, p.key, encoded, int64(e.cfg.CacheTTL.Seconds())); err != nil {
			log.Warn().Err(err).Str("key", p.key).Msg("ratecache: refresh: cache write failed")
			e.metrics.Error.WithLabelValues(errWhenCacheWrite).Inc()
			tally.Errors++
			continue
		}
		tally.Updated++
	}

	return tally, nil
}

// IsServiceUnavailable reports whether err is an ErrServiceUnavailable,
// unwrapping as errors.As requires.
func IsServiceUnavailable(err error) (*ErrServiceUnavailable, bool) {
	var su *ErrServiceUnavailable
	if errors.As(err, &su) {
		return su, true
	}
	return nil, false
}
