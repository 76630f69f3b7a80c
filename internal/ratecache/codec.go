package ratecache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// rateEnvelope is the stable scalar wrapper a cached rate entry is stored
// as, in the style of the teacher's ValueBytesExpiredAt: a small msgpack
// struct rather than a raw string, so "upstream has no rate for this tuple"
// (Absent: true) round-trips distinguishably from "upstream returned the
// empty string" or "key genuinely absent from the store" (spec.md §9 open
// question 1: the default behavior caches ∅ to dampen repeated lookups of
// unknown tuples).
type rateEnvelope struct {
	Rate   string `msgpack:"rate,omitempty"`
	Absent bool   `msgpack:"absent,omitempty"`
}

// encodeRate serializes a resolved rate; an unknown tuple is encoded as
// ("", false).
func encodeRate(rate string, present bool) ([]byte, error) {
	env := rateEnvelope{Rate: rate, Absent: !present}
	b, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("ratecache: encode rate: %w", err)
	}
	return b, nil
}

// decodeRate reverses encodeRate, returning (rate, present).
func decodeRate(b []byte) (string, bool, error) {
	var env rateEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return "", false, fmt.Errorf("ratecache: decode rate: %w", err)
	}
	return env.Rate, !env.Absent, nil
}
