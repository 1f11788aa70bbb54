// Package constants collects the fixed protocol-level keys shared
// across the server and its middleware, grounded on the teacher's
// internal/constants package.
package constants

const AppName = "mediacache"

const (
	// RequestIDHeader carries the per-request correlation id assigned at
	// the edge, mirroring the teacher's X-Request-ID convention.
	RequestIDHeader = "X-Request-ID"

	// CacheStatusHeader reports how a response was served: HIT, MISS,
	// PARTIAL, or BYPASS.
	CacheStatusHeader = "X-Cache"
)

// CacheStatus labels how a response was assembled from cache vs origin.
type CacheStatus string

const (
	CacheHit     CacheStatus = "HIT"
	CacheMiss    CacheStatus = "MISS"
	CachePartial CacheStatus = "PARTIAL"
	CacheBypass  CacheStatus = "BYPASS"
)
