// Package prom exports cache metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/tinycache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	removals    *prometheus.CounterVec
	sizeEnt     prometheus.Gauge
	sizeWeight  prometheus.Gauge
	maintenance prometheus.Histogram
	panics      prometheus.Counter
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		removals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "removals_total",
				Help:        "Entries removed from the cache by cause",
				ConstLabels: constLabels,
			},
			[]string{"cause"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
		sizeWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_weight",
			Help:        "Total weight tracked by the eviction policy",
			ConstLabels: constLabels,
		}),
		maintenance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "maintenance_seconds",
			Help:        "Duration of maintenance passes",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "listener_panics_total",
			Help:        "Removal listener invocations that panicked",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.removals, a.sizeEnt, a.sizeWeight, a.maintenance, a.panics)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the removal counter labelled with the cause.
func (a *Adapter) Evict(c cache.RemovalCause) {
	a.removals.WithLabelValues(cause(c)).Inc()
}

// Size updates gauges for the number of entries and total weight.
func (a *Adapter) Size(entries int, weight uint64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeWeight.Set(float64(weight))
}

// Maintenance observes one pass duration.
func (a *Adapter) Maintenance(d time.Duration) { a.maintenance.Observe(d.Seconds()) }

// ListenerPanic counts a recovered listener panic.
func (a *Adapter) ListenerPanic() { a.panics.Inc() }

// cause maps RemovalCause to a stable label value.
func cause(c cache.RemovalCause) string {
	switch c {
	case cache.CauseExplicit:
		return "explicit"
	case cache.CauseReplaced:
		return "replaced"
	case cache.CauseSize:
		return "size"
	case cache.CauseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
