package types

import (
	"context"
)

// AssetFetcher retrieves raw asset bytes from the remote source (CDN or
// object storage). Implementations must honor ctx cancellation and
// deadlines; a timed-out fetch returns ctx.Err() or a wrapped transport
// error, never partial data.
type AssetFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// AssetFetcherFunc adapts a function to the AssetFetcher interface.
type AssetFetcherFunc func(ctx context.Context, key string) ([]byte, error)

// Fetch implements AssetFetcher.
func (f AssetFetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// CapabilitySource reports current device and network conditions. Read-only
// input to the optimization controller; the cache never mutates it.
type CapabilitySource interface {
	Snapshot() CapabilitySnapshot
}

// DurableStore is optional opaque key/byte persistence used write-behind for
// warm starts. Never on the read critical path.
type DurableStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// MetricsCollector receives cache events for export. Implementations must be
// safe for concurrent use and must never block the caller.
type MetricsCollector interface {
	RecordHit(strategy EvictionStrategy, size int64)
	RecordMiss(strategy EvictionStrategy)
	RecordEviction(strategy EvictionStrategy, reason EvictionReason, size int64)
	RecordPrefetch(outcome string, size int64)
	UpdateUsage(strategy EvictionStrategy, bytes int64, entries int)
}

// NopMetrics is a MetricsCollector that discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordHit(EvictionStrategy, int64)                      {}
func (NopMetrics) RecordMiss(EvictionStrategy)                            {}
func (NopMetrics) RecordEviction(EvictionStrategy, EvictionReason, int64) {}
func (NopMetrics) RecordPrefetch(string, int64)                           {}
func (NopMetrics) UpdateUsage(EvictionStrategy, int64, int)               {}
