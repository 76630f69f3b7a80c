package ratecache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ryanelian/mitsu/internal/upstream"
)

// Registry is the well-known set key holding every K ever successfully
// populated (spec.md §3 Registry, §6 persisted-state layout).
const Registry = "rate_cache_keys"

// keyWire is the canonical, deterministic encoding of a rate key: an
// ordered association of the three tuple fields, period -> hotel -> room,
// with no whitespace. msgpack's map-of-strings encoding with an explicit
// field order (via a struct, not a map) is stable across the Go msgpack
// implementation and across replicas running identical code, which is the
// only cross-replica guarantee spec.md's K actually requires.
type keyWire struct {
	Period string `msgpack:"period"`
	Hotel  string `msgpack:"hotel"`
	Room   string `msgpack:"room"`
}

// EncodeKey computes K for a tuple: the canonical string under which a
// cached rate lives and the sole member enrolled in the registry.
func EncodeKey(t upstream.Tuple) string {
	b, err := msgpack.Marshal(keyWire{Period: t.Period, Hotel: t.Hotel, Room: t.Room})
	if err != nil {
		// msgpack.Marshal only fails on unsupported types; keyWire is a
		// plain struct of strings, so this is unreachable in practice.
		panic(fmt.Sprintf("ratecache: encode key: %v", err))
	}
	return string(b)
}

// DecodeKey reverses EncodeKey. It is defensive per spec.md §4.5.2 step 2:
// the registry should, by construction, only ever contain values produced
// by EncodeKey, but a corrupted or foreign entry must be rejected rather
// than silently misinterpreted.
func DecodeKey(k string) (upstream.Tuple, error) {
	var w keyWire
	if err := msgpack.Unmarshal([]byte(k), &w); err != nil {
		return upstream.Tuple{}, fmt.Errorf("ratecache: decode key: %w", err)
	}
	if w.Period == "" || w.Hotel == "" || w.Room == "" {
		return upstream.Tuple{}, fmt.Errorf("ratecache: decode key: incomplete tuple in %q", k)
	}
	return upstream.Tuple{Period: w.Period, Hotel: w.Hotel, Room: w.Room}, nil
}
