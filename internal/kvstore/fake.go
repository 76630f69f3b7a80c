package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type fakeEntry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

// Fake is an in-memory Store used by tests that exercise internal/lock and
// internal/ratecache without a live Redis. It honours TTL expiry and the
// NX/compare-and-delete atomicity contracts exactly as the Redis-backed
// implementation does, just guarded by a mutex instead of a server.
type Fake struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	sets    map[string]map[string]struct{}
	now     func() time.Time

	// Reachable lets tests simulate a dead backend for C8.
	Reachable bool
}

// NewFake returns a ready-to-use Fake store.
func NewFake() *Fake {
	return &Fake{
		entries:   make(map[string]fakeEntry),
		sets:      make(map[string]map[string]struct{}),
		now:       time.Now,
		Reachable: true,
	}
}

// SetNowFunc overrides the clock, for deterministic TTL-expiry tests.
func (f *Fake) SetNowFunc(fn func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = fn
}

func (f *Fake) expired(e fakeEntry) bool {
	return !e.expireAt.IsZero() && f.now().After(e.expireAt)
}

func (f *Fake) Get(_ context.Context, k string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[k]
	if !ok || f.expired(e) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (f *Fake) SetWithTTL(_ context.Context, k string, v []byte, ttlSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expireAt time.Time
	if ttlSeconds > 0 {
		expireAt = f.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	f.entries[k] = fakeEntry{value: v, expireAt: expireAt}
	return nil
}

func (f *Fake) Incr(ctx context.Context, k string) (int64, error) {
	return f.IncrBy(ctx, k, 1)
}

func (f *Fake) IncrBy(_ context.Context, k string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	if e, ok := f.entries[k]; ok && !f.expired(e) {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n += delta
	f.entries[k] = fakeEntry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (f *Fake) GetCounter(_ context.Context, k string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[k]
	if !ok || f.expired(e) {
		return 0, nil
	}
	n, _ := strconv.ParseInt(string(e.value), 10, 64)
	return n, nil
}

func (f *Fake) SAdd(_ context.Context, set string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.sets[set]
	if !ok {
		m = make(map[string]struct{})
		f.sets[set] = m
	}
	m[member] = struct{}{}
	return nil
}

func (f *Fake) SMembers(_ context.Context, set string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.sets[set]
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out, nil
}

func (f *Fake) SetIfAbsentWithTTL(_ context.Context, k string, v string, ttlMillis int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[k]; ok && !f.expired(e) {
		return false, nil
	}
	f.entries[k] = fakeEntry{
		value:    []byte(v),
		expireAt: f.now().Add(time.Duration(ttlMillis) * time.Millisecond),
	}
	return true, nil
}

func (f *Fake) EvalCompareAndDelete(_ context.Context, k string, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[k]
	if !ok || f.expired(e) || string(e.value) != expected {
		return false, nil
	}
	delete(f.entries, k)
	return true, nil
}

func (f *Fake) Ping(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reachable
}
