// Package quota implements the upstream-call quota accountant (spec.md C4):
// a monotonic daily counter of upstream calls and a predicate for whether
// any quota remains. It is a thin wrapper over internal/kvstore's counter
// operations, in the shape of a store.Store counter interface as used by
// krishna-kudari-go-ratelimit's rate-limit store.
package quota

import (
	"context"
	"fmt"

	"github.com/ryanelian/mitsu/internal/kvstore"
)

// Key is the well-known counter key specified in spec.md §3/§6.
const Key = "rate_api:calls"

// Accountant gates and tallies upstream calls against a fixed daily ceiling.
// It holds no counter state itself; Q lives entirely in the KV store so
// every replica observes the same count.
type Accountant struct {
	store   kvstore.Store
	ceiling int64
}

// New returns an Accountant enforcing ceiling calls per accounting window.
func New(store kvstore.Store, ceiling int64) *Accountant {
	return &Accountant{store: store, ceiling: ceiling}
}

// Increment unconditionally records one upstream call. Callers (C5) must
// only invoke this after a successful upstream call, never on cache hits,
// lock contention, or upstream failure — see spec.md §4.4's accounting
// policy.
func (a *Accountant) Increment(ctx context.Context) error {
	if _, err := a.store.Incr(ctx, Key); err != nil {
		return fmt.Errorf("quota: increment: %w", err)
	}
	return nil
}

// Count reads the current value of Q.
func (a *Accountant) Count(ctx context.Context) (int64, error) {
	n, err := a.store.GetCounter(ctx, Key)
	if err != nil {
		return 0, fmt.Errorf("quota: count: %w", err)
	}
	return n, nil
}

// Remaining returns the ceiling minus the current count; it may be negative
// if the ceiling has been exceeded (e.g. by a burst racing the advisory
// gate — see spec.md §4.5.1 step 3).
func (a *Accountant) Remaining(ctx context.Context) (int64, error) {
	n, err := a.Count(ctx)
	if err != nil {
		return 0, err
	}
	return a.ceiling - n, nil
}

// HasRemaining reports whether Remaining() > 0.
func (a *Accountant) HasRemaining(ctx context.Context) (bool, error) {
	r, err := a.Remaining(ctx)
	if err != nil {
		return false, err
	}
	return r > 0, nil
}

// Ceiling returns the configured quota ceiling N.
func (a *Accountant) Ceiling() int64 {
	return a.ceiling
}
