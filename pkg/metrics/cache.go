package metrics

import (
	"github.com/marmos91/webhdfsfs/pkg/metadata/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics is the Prometheus implementation of cache.CacheMetrics interface.
//
// This implementation collects metrics about the attribute cache:
//   - Hits and misses per entry kind (attr, negative, listing)
//   - LRU evictions and explicit invalidations
//   - Current entry count
type cacheMetrics struct {
	lookups       *prometheus.CounterVec
	evictions     prometheus.Counter
	invalidations *prometheus.CounterVec
	entries       prometheus.Gauge
}

// NewCacheMetrics creates a new Prometheus-backed CacheMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the cache to use the built-in no-op implementation.
//
// This implements the cache.CacheMetrics interface from pkg/metadata/cache/cache_metrics.go.
func NewCacheMetrics() cache.CacheMetrics {
	if !IsEnabled() {
		return nil // Cache will use noopCacheMetrics
	}

	reg := GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_attr_cache_lookups_total",
				Help: "Total number of attribute cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
		evictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "webhdfsfs_attr_cache_evictions_total",
				Help: "Total number of attribute cache entries evicted by the LRU bound",
			},
		),
		invalidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_attr_cache_invalidations_total",
				Help: "Total number of explicit attribute cache invalidations",
			},
			[]string{"scope"},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "webhdfsfs_attr_cache_entries",
				Help: "Current number of attribute cache entries",
			},
		),
	}
}

// RecordHit implements cache.CacheMetrics.RecordHit
func (m *cacheMetrics) RecordHit(kind string) {
	m.lookups.WithLabelValues(kind, "hit").Inc()
}

// RecordMiss implements cache.CacheMetrics.RecordMiss
func (m *cacheMetrics) RecordMiss(kind string) {
	m.lookups.WithLabelValues(kind, "miss").Inc()
}

// RecordEviction implements cache.CacheMetrics.RecordEviction
func (m *cacheMetrics) RecordEviction() {
	m.evictions.Inc()
}

// RecordInvalidation implements cache.CacheMetrics.RecordInvalidation
func (m *cacheMetrics) RecordInvalidation(subtree bool) {
	scope := "path"
	if subtree {
		scope = "subtree"
	}
	m.invalidations.WithLabelValues(scope).Inc()
}

// RecordEntries implements cache.CacheMetrics.RecordEntries
func (m *cacheMetrics) RecordEntries(count int) {
	m.entries.Set(float64(count))
}
