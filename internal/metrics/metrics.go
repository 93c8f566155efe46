// Package metrics holds the Prometheus collectors of the server. All
// recording methods are no-ops on a nil *Metrics.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fdesqlmcp"

// Metrics owns a private registry so tests and embedders never collide with
// the global one.
type Metrics struct {
	Registry *prometheus.Registry

	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	guardRejections *prometheus.CounterVec
	truncated       *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome (ok or an error kind).",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"tool"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Queries rejected by the read-only guard, by rule.",
		}, []string{"rule"}),
		truncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_results_total",
			Help:      "Results cut at the row limit, by capping strategy.",
		}, []string{"strategy"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_lookups_total",
			Help:      "Catalog cache lookups by result (hit, miss or error).",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.toolCalls, m.toolDuration, m.guardRejections, m.truncated, m.cacheLookups,
	)
	return m
}

// ObserveTool records one tool invocation.
func (m *Metrics) ObserveTool(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// GuardRejected counts a guard rejection under rule.
func (m *Metrics) GuardRejected(rule string) {
	if m == nil {
		return
	}
	m.guardRejections.WithLabelValues(rule).Inc()
}

// Truncated counts a result cut at the row limit.
func (m *Metrics) Truncated(strategy string) {
	if m == nil {
		return
	}
	m.truncated.WithLabelValues(strategy).Inc()
}

// CacheLookup counts a catalog cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RegisterPoolStats exposes database/sql pool statistics as gauges.
func (m *Metrics) RegisterPoolStats(stats func() sql.DBStats) {
	if m == nil {
		return
	}
	gauge := func(name, help string, value func(sql.DBStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	m.Registry.MustRegister(
		gauge("db_open_connections", "Open connections across all database handles.",
			func(s sql.DBStats) float64 { return float64(s.OpenConnections) }),
		gauge("db_in_use_connections", "Connections currently leased to a request.",
			func(s sql.DBStats) float64 { return float64(s.InUse) }),
		gauge("db_idle_connections", "Idle pooled connections.",
			func(s sql.DBStats) float64 { return float64(s.Idle) }),
		gauge("db_max_open_connections", "Configured connection ceiling across all database handles.",
			func(s sql.DBStats) float64 { return float64(s.MaxOpenConnections) }),
		gauge("db_wait_count", "Total connection waits.",
			func(s sql.DBStats) float64 { return float64(s.WaitCount) }),
	)
}
