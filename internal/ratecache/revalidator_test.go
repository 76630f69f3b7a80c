package ratecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ryanelian/mitsu/internal/kvstore"
	"github.com/ryanelian/mitsu/internal/quota"
	"github.com/ryanelian/mitsu/internal/upstream"
)

func TestRevalidatorTicksUntilCancelled(t *testing.T) {
	store := kvstore.NewFake()
	tuple := upstream.Tuple{Period: "Summer", Hotel: "FloatingPointResort", Room: "SingletonRoom"}
	up := newStubUpstream(map[upstream.Tuple]string{tuple: "12000"})
	q := quota.New(store, 1000)
	engine := newTestEngine(store, up, q)

	if err := store.SAdd(context.Background(), Registry, EncodeKey(tuple)); err != nil {
		t.Fatal(err)
	}

	r := NewRevalidator(engine, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("revalidator did not stop after context cancellation")
	}

	assert.GreaterOrEqual(t, up.calls(), int32(1))
}
