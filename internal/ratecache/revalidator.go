package ratecache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Revalidator is spec.md C6: a single long-lived task per process that
// drives Engine.RefreshAll on a fixed cadence, in the ticker+select style
// of the teacher's aggregateSend loop. Errors inside a refresh never
// terminate the loop (spec.md §4.6).
type Revalidator struct {
	engine   *Engine
	interval time.Duration
}

// NewRevalidator returns a Revalidator that refreshes engine every
// interval once started.
func NewRevalidator(engine *Engine, interval time.Duration) *Revalidator {
	return &Revalidator{engine: engine, interval: interval}
}

// Run blocks, refreshing on every tick, until ctx is cancelled (the
// process's shutdown signal). It is meant to be run in its own goroutine.
func (r *Revalidator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("revalidator: shutting down")
			return
		case <-ticker.C:
			tally, err := r.engine.RefreshAll(ctx)
			if err != nil {
				log.Error().Err(err).Msg("revalidator: refresh failed")
				continue
			}
			log.Info().
				Int("updated", tally.Updated).
				Int("errors", tally.Errors).
				Msg("revalidator: refresh complete")
		}
	}
}
