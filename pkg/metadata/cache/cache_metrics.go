package cache

// Entry kinds reported to CacheMetrics.
const (
	KindAttr     = "attr"
	KindNegative = "negative"
	KindListing  = "listing"
)

// CacheMetrics provides observability for the attribute cache.
//
// This is optional - if not provided, metrics collection is skipped.
// The Prometheus implementation lives in pkg/metrics.
type CacheMetrics interface {
	// RecordHit records a lookup served from the cache
	RecordHit(kind string)

	// RecordMiss records a lookup that has to go to the server
	RecordMiss(kind string)

	// RecordEviction records an entry dropped by the LRU bound
	RecordEviction()

	// RecordInvalidation records an explicit invalidation
	RecordInvalidation(subtree bool)

	// RecordEntries records the current number of cached entries
	RecordEntries(count int)
}

// noopCacheMetrics is a default no-op metrics implementation
type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordHit(kind string)           {}
func (noopCacheMetrics) RecordMiss(kind string)          {}
func (noopCacheMetrics) RecordEviction()                 {}
func (noopCacheMetrics) RecordInvalidation(subtree bool) {}
func (noopCacheMetrics) RecordEntries(count int)         {}
