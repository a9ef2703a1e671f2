// Package types defines the shared data model of the asset cache: eviction
// strategies, priorities, load results, prefetch requests, analytics
// snapshots, optimization plans, and the collaborator interfaces the engine
// consumes (asset fetcher, capability source, durable store, metrics).
//
// The package has no dependencies on the engine internals so that external
// adapters can implement the collaborator interfaces without importing the
// cache itself.
package types
