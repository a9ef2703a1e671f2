// Package cache implements the adaptive asset-caching engine: a bounded
// in-memory store partitioned by eviction strategy, a pressure-tiered
// eviction engine, confidence-ranked prefetching, hit/miss analytics, and
// a self-tuning optimization controller.
//
// Construct one AssetCache per owning component with New and release it
// with Dispose. All operations are safe for concurrent use; a single
// mutex serializes mutation, and reads count as mutation because they
// update access metadata.
package cache
