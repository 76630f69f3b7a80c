// Package kvstore is a thin, testable facade over the remote key/value+set
// server that backs the rate cache, the distributed lock, the key registry
// and the quota/hit counters. It is the only component that talks to Redis
// directly; everything else in this module goes through the Store interface.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent. The rate cache
// engine treats it the same as a transport error (a miss), but it is
// exposed distinctly so a caller can tell "absent" apart from "transport
// broke".
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the operation set specified in spec.md C1. Get returns
// ErrNotFound for a missing key rather than a zero value, so callers never
// confuse "absent" with "present but empty"; GetCounter and SMembers
// instead read a missing key as 0 and as an empty set.
type Store interface {
	// Get returns the raw bytes stored at k, or ErrNotFound if absent.
	Get(ctx context.Context, k string) ([]byte, error)

	// SetWithTTL atomically sets k to v with the given expiry.
	SetWithTTL(ctx context.Context, k string, v []byte, ttlSeconds int64) error

	// Incr increments k by 1, initializing to 0 if absent, and returns the
	// new value.
	Incr(ctx context.Context, k string) (int64, error)

	// IncrBy increments k by delta, initializing to 0 if absent, and returns
	// the new value.
	IncrBy(ctx context.Context, k string, delta int64) (int64, error)

	// GetCounter reads k as an integer counter; a missing key reads as 0.
	GetCounter(ctx context.Context, k string) (int64, error)

	// SAdd adds member to the set at s.
	SAdd(ctx context.Context, s string, member string) error

	// SMembers returns every member of the set at s; a missing set reads as
	// an empty, non-nil slice.
	SMembers(ctx context.Context, s string) ([]string, error)

	// SetIfAbsentWithTTL is the NX+PX primitive: it sets k to v with the
	// given TTL iff k does not already exist, and reports whether it did so.
	SetIfAbsentWithTTL(ctx context.Context, k string, v string, ttlMillis int64) (bool, error)

	// EvalCompareAndDelete atomically deletes k iff its current value equals
	// expected, in a single round trip, and reports whether it deleted.
	EvalCompareAndDelete(ctx context.Context, k string, expected string) (bool, error)

	// Ping reports whether the store is reachable. It never returns an
	// error; callers get a boolean because C8 must never fail on a dead
	// backend.
	Ping(ctx context.Context) bool
}
