package ratecache

import "github.com/prometheus/client_golang/prometheus"

// sourceLabel values for the Hit/Latency vectors, mirroring the teacher's
// hitLabelMemory/hitLabelRedis/hitLabelDB triple (this engine has no
// in-process tier, so only two sources apply here).
const (
	sourceRedis    = "redis"
	sourceUpstream = "upstream"
)

// errWhen labels for the Error vector, mirroring the teacher's
// errLableSetCache/errLableInvalidate pattern.
const (
	errWhenCacheWrite   = "cache_write"
	errWhenRegistryWrite = "registry_write"
	errWhenUpstream      = "upstream"
	errWhenRefreshDecode = "refresh_decode"
)

// metricSet is this engine's Prometheus instrumentation, the same
// Hit/Latency/Error CounterVec/HistogramVec shape the teacher registers in
// NewCache, scaled down to this engine's two traffic sources. It is ambient
// observability, not a feature spec.md's non-goals exclude — see
// SPEC_FULL.md §12.2.
type metricSet struct {
	Hit     *prometheus.CounterVec
	Latency *prometheus.HistogramVec
	Error   *prometheus.CounterVec
}

var latencyBucketsMs = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048}

func newMetricSet(namespace string, reg prometheus.Registerer) *metricSet {
	m := &metricSet{
		Hit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_ratecache_hit_total",
			Help: "Count of get_rate resolutions by source (redis, upstream).",
		}, []string{"source"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    namespace + "_ratecache_latency_ms",
			Help:    "get_rate resolution latency in milliseconds, by source.",
			Buckets: latencyBucketsMs,
		}, []string{"source"}),
		Error: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_ratecache_error_total",
			Help: "Count of internal errors by the stage that observed them.",
		}, []string{"when"}),
	}
	if reg != nil {
		reg.MustRegister(m.Hit, m.Latency, m.Error)
	}
	return m
}
