// Package metrics registers the Prometheus collectors the pool and cache
// layers use to expose their health, grounded on the exporter-over-a-mutex-
// guarded-map pattern used for runner/pool telemetry elsewhere in the
// example corpus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pool holds the gauges/counters one connection pool registers.
type Pool struct {
	ConnectionsInUse prometheus.Gauge
	ConnectionsTotal prometheus.Gauge
	AcquireWaits     prometheus.Counter
	Errors           prometheus.Counter
	AverageQuality   prometheus.Gauge
}

// NewPool constructs a Pool's collectors, labeled by name (typically
// "host:port"), but does not register them.
func NewPool(name string) *Pool {
	constLabels := prometheus.Labels{"pool": name}
	return &Pool{
		ConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wip",
			Subsystem:   "pool",
			Name:        "connections_in_use",
			Help:        "Connections currently checked out of the pool.",
			ConstLabels: constLabels,
		}),
		ConnectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wip",
			Subsystem:   "pool",
			Name:        "connections_total",
			Help:        "Connections currently tracked by the pool, in any state.",
			ConstLabels: constLabels,
		}),
		AcquireWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "wip",
			Subsystem:   "pool",
			Name:        "acquire_waits_total",
			Help:        "Acquire calls that had to wait for a connection to free up.",
			ConstLabels: constLabels,
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "wip",
			Subsystem:   "pool",
			Name:        "errors_total",
			Help:        "Connections pruned due to an error.",
			ConstLabels: constLabels,
		}),
		AverageQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wip",
			Subsystem:   "pool",
			Name:        "average_quality",
			Help:        "Mean quality score across tracked connections, in [0,1].",
			ConstLabels: constLabels,
		}),
	}
}

// MustRegister registers every collector in p with reg.
func (p *Pool) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(p.ConnectionsInUse, p.ConnectionsTotal, p.AcquireWaits, p.Errors, p.AverageQuality)
}

// Cache holds the collectors a cache layer (memory or disk) registers.
type Cache struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
	Entries   prometheus.Gauge
	BytesUsed prometheus.Gauge
}

// NewCache constructs a Cache's collectors, labeled by layer ("memory" or
// "disk"), but does not register them.
func NewCache(layer string) *Cache {
	constLabels := prometheus.Labels{"layer": layer}
	return &Cache{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wip", Subsystem: "cache", Name: "hits_total",
			Help: "Cache lookups that found a live entry.", ConstLabels: constLabels,
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wip", Subsystem: "cache", Name: "misses_total",
			Help: "Cache lookups that found no entry or an expired one.", ConstLabels: constLabels,
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wip", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries removed by the eviction policy, not by expiry.", ConstLabels: constLabels,
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wip", Subsystem: "cache", Name: "entries",
			Help: "Entries currently held.", ConstLabels: constLabels,
		}),
		BytesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wip", Subsystem: "cache", Name: "bytes_used",
			Help: "Approximate bytes held across all entries.", ConstLabels: constLabels,
		}),
	}
}

// MustRegister registers every collector in c with reg.
func (c *Cache) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.Hits, c.Misses, c.Evictions, c.Entries, c.BytesUsed)
}
