// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

const namespace = "adblock"

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	checksTotal    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheSize      prometheus.Gauge
	rules          *prometheus.GaugeVec
	parseFailures  prometheus.Gauge
	fetchFailures  prometheus.Counter
	updates        *prometheus.CounterVec
	updateDuration prometheus.Histogram
	snapshotLoads  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Network checks answered, by outcome.",
		}, []string{"result"}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_hits_total",
			Help:      "Result cache hits.",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_misses_total",
			Help:      "Result cache misses.",
		}),

		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_evictions_total",
			Help:      "Result cache entries evicted.",
		}),

		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "result_cache_size",
			Help:      "Result cache entries.",
		}),

		rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Compiled rules in the current rule set, by kind.",
		}, []string{"kind"}),

		parseFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parse_failures",
			Help:      "Lines dropped as malformed by the last compilation.",
		}),

		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_fetch_failures_total",
			Help:      "Filter lists that could not be acquired.",
		}),

		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Rule set rebuilds, by result.",
		}, []string{"result"}),

		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Time to acquire and compile every list.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		snapshotLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_loads_total",
			Help:      "Startup snapshot loads, by result.",
		}, []string{"result"}),

		registry: reg,
	}

	reg.MustRegister(
		m.checksTotal,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.cacheSize,
		m.rules,
		m.parseFailures,
		m.fetchFailures,
		m.updates,
		m.updateDuration,
		m.snapshotLoads,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CacheHit()          { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()         { m.cacheMisses.Inc() }
func (m *Metrics) CacheEvicted(n int) { m.cacheEvictions.Add(float64(n)) }
func (m *Metrics) CacheSize(n int)    { m.cacheSize.Set(float64(n)) }

// RecordCheck counts one answered network check.
func (m *Metrics) RecordCheck(blocked bool) {
	result := "allowed"
	if blocked {
		result = "blocked"
	}
	m.checksTotal.WithLabelValues(result).Inc()
}

// SetRuleStats publishes the statistics of the current rule set.
func (m *Metrics) SetRuleStats(s domain.CompileStats) {
	m.rules.WithLabelValues("network").Set(float64(s.Network))
	m.rules.WithLabelValues("exception").Set(float64(s.Exceptions))
	m.rules.WithLabelValues("cosmetic").Set(float64(s.Cosmetic))
	m.rules.WithLabelValues("scriptlet").Set(float64(s.Scriptlets))
	m.parseFailures.Set(float64(s.Failed))
}

// RecordFetchFailures counts lists that failed to be acquired.
func (m *Metrics) RecordFetchFailures(n int) {
	m.fetchFailures.Add(float64(n))
}

// RecordUpdate records one rebuild attempt.
func (m *Metrics) RecordUpdate(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.updates.WithLabelValues(result).Inc()
	m.updateDuration.Observe(d.Seconds())
}

// RecordSnapshotLoad records a startup snapshot lookup; result is "hit",
// "miss" or "error".
func (m *Metrics) RecordSnapshotLoad(result string) {
	m.snapshotLoads.WithLabelValues(result).Inc()
}
