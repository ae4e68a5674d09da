package cache

import "github.com/prometheus/client_golang/prometheus"

// cacheMetrics are the disk cache's operational counters/gauges, grounded
// on main.go's prometheus.WrapRegistererWithPrefix registration pattern.
type cacheMetrics struct {
	hits           prometheus.Counter
	misses         prometheus.Counter
	bytes          prometheus.Gauge
	entries        prometheus.Gauge
	pruneEvictions *prometheus.CounterVec
}

func newCacheMetrics(registerer prometheus.Registerer) *cacheMetrics {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reqqueue",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups that found a usable entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reqqueue",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that found nothing usable.",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqqueue",
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Total bytes currently held by the disk cache.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqqueue",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Total entries currently indexed by the disk cache.",
		}),
		pruneEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqqueue",
			Subsystem: "cache",
			Name:      "prune_evictions_total",
			Help:      "Entries evicted by pruneIfNeeded, by pass.",
		}, []string{"pass"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.hits, m.misses, m.bytes, m.entries, m.pruneEvictions)
	}
	return m
}
