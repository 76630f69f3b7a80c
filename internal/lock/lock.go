// Package lock implements a per-resource distributed mutual-exclusion
// primitive over internal/kvstore, in the style of the teacher's inline
// SetNX-retry loop (github.com/stumble/dcache's GetWithTtl), generalized
// into a standalone primitive per spec.md C2 and shaped after
// OliveiraCleidson-go-lockbox's LockAdapter contract (Acquire/Release,
// unique per-acquire token, TTL-bounded, fixed-delay retry).
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/ryanelian/mitsu/internal/kvstore"
)

// ErrAcquireFailed is returned by Acquire when every retry is exhausted.
var ErrAcquireFailed = errors.New("lock: acquisition failed")

const keyPrefix = "lock:"

// Lock is a distributed lock backed by a kvstore.Store. It holds no
// in-process state of its own beyond the store handle; every acquired lock
// lives entirely in the store until released or TTL-expired, so many Lock
// values across many replicas correctly contend for the same resource.
type Lock struct {
	store kvstore.Store
}

// New returns a Lock bound to store.
func New(store kvstore.Store) *Lock {
	return &Lock{store: store}
}

// Acquire attempts to take the lock on resource, retrying up to retries
// additional times with retryDelay between attempts (clamped to whatever
// remains of ttl). It returns the unique token that must be presented to
// Release, or ErrAcquireFailed if every attempt failed.
func (l *Lock) Acquire(ctx context.Context, resource string, ttl time.Duration, retries int, retryDelay time.Duration) (string, error) {
	token := newToken()
	key := keyPrefix + resource
	ttlMillis := ttl.Milliseconds()
	deadline := time.Now().Add(ttl)

	for attempt := 0; ; attempt++ {
		ok, err := l.store.SetIfAbsentWithTTL(ctx, key, token, ttlMillis)
		if err != nil {
			return "", fmt.Errorf("lock: acquire %s: %w", resource, err)
		}
		if ok {
			return token, nil
		}
		if attempt >= retries {
			return "", ErrAcquireFailed
		}

		remaining := time.Until(deadline)
		sleep := retryDelay
		if remaining < sleep {
			sleep = remaining
		}
		if sleep > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(sleep):
			}
		}
	}
}

// Release deletes the lock on resource iff it is still held by token,
// using the store's atomic compare-and-delete so a holder never releases a
// lock it no longer owns (e.g. one that expired and was re-acquired by
// another replica in the meantime).
func (l *Lock) Release(ctx context.Context, resource string, token string) (bool, error) {
	released, err := l.store.EvalCompareAndDelete(ctx, keyPrefix+resource, token)
	if err != nil {
		return false, fmt.Errorf("lock: release %s: %w", resource, err)
	}
	return released, nil
}

// WithLock acquires resource, runs body while held, and always releases
// before returning — including when body panics. If acquire exhausts its
// retries, body is never invoked and WithLock returns (zero, false, nil):
// the caller (C5) treats that as "lock unavailable", not as an error in its
// own right. Any other acquire failure (a store transport error, a
// cancelled context) is returned as (zero, false, err), also without
// running body.
func WithLock[T any](ctx context.Context, l *Lock, resource string, ttl time.Duration, retries int, retryDelay time.Duration, body func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	token, err := l.Acquire(ctx, resource, ttl, retries, retryDelay)
	if err != nil {
		if errors.Is(err, ErrAcquireFailed) {
			return zero, false, nil
		}
		return zero, false, err
	}

	defer func() {
		// Best effort: if release fails or times out the lock still expires
		// via TTL, so the release result and error are ignored here.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = l.Release(releaseCtx, resource, token)
	}()

	v, err := body(ctx)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// newToken generates a value two concurrent acquirers anywhere in the fleet
// produce distinct instances of with overwhelming probability: a v4 UUID,
// as the teacher uses for its own per-process instance id.
func newToken() string {
	return uuid.NewV4().String()
}
