package cache

import (
	"sort"

	"github.com/bassnotion/assetcache/pkg/types"
)

// topAssetLimit caps the most-hit assets list.
const topAssetLimit = 10

// strategyCounters accumulates raw per-partition observations. Rates are
// derived at snapshot time so repeated reads are idempotent.
type strategyCounters struct {
	hits         uint64
	misses       uint64
	evictions    uint64
	bytesServed  int64
	bytesEvicted int64
}

// analyticsEngine is a pure aggregator. It never touches cache state;
// recordHit, recordMiss, recordEviction and recordPut are its only
// mutation entry points, called by the store and eviction paths while the
// cache lock is held.
type analyticsEngine struct {
	globalHits     uint64
	globalMisses   uint64
	networkSavings int64

	strategies map[types.EvictionStrategy]*strategyCounters

	topAssets []types.TopAsset
}

func newAnalyticsEngine() *analyticsEngine {
	a := &analyticsEngine{
		strategies: make(map[types.EvictionStrategy]*strategyCounters),
	}
	for _, strategy := range types.Strategies() {
		a.strategies[strategy] = &strategyCounters{}
	}
	return a
}

func (a *analyticsEngine) recordHit(strategy types.EvictionStrategy, key string, size int64, hits uint32) {
	a.globalHits++
	c := a.strategies[strategy]
	c.hits++
	c.bytesServed += size
	a.noteAsset(key, hits, size)
}

func (a *analyticsEngine) recordMiss(strategy types.EvictionStrategy) {
	a.globalMisses++
	a.strategies[strategy].misses++
}

func (a *analyticsEngine) recordEviction(strategy types.EvictionStrategy, key string, size int64) {
	c := a.strategies[strategy]
	c.evictions++
	c.bytesEvicted += size
	a.dropAsset(key)
}

// recordPut registers a fresh insertion: the asset enters the top list
// with zero hits and the write counts as avoided network transfer.
func (a *analyticsEngine) recordPut(key string, size int64) {
	a.networkSavings += size
	a.noteAsset(key, 0, size)
}

// hitRate is hits/(hits+misses), zero when there are no samples.
func (a *analyticsEngine) hitRate() float64 {
	total := a.globalHits + a.globalMisses
	if total == 0 {
		return 0
	}
	return float64(a.globalHits) / float64(total)
}

// hasSamples reports whether any strategy has at least one observation.
func (a *analyticsEngine) hasSamples() bool {
	for _, c := range a.strategies {
		if c.hits+c.misses+c.evictions > 0 {
			return true
		}
	}
	return false
}

// metrics derives the per-strategy rate view. suitability comes from the
// store, which knows the partition's live entries.
func (a *analyticsEngine) metrics(strategy types.EvictionStrategy, suitability float64) types.StrategyMetrics {
	c := a.strategies[strategy]
	m := types.StrategyMetrics{
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		BytesServed:      c.bytesServed,
		BytesEvicted:     c.bytesEvicted,
		SuitabilityScore: suitability,
	}

	if requests := c.hits + c.misses; requests > 0 {
		m.HitRate = float64(c.hits) / float64(requests)
		m.EvictionRate = float64(c.evictions) / float64(requests+c.evictions)
	}
	if moved := c.bytesServed + c.bytesEvicted; moved > 0 {
		m.MemoryEfficiency = float64(c.bytesServed) / float64(moved)
	}
	return m
}

// noteAsset inserts or updates the asset in the bounded most-hit list,
// then truncates by a descending sort on hits.
func (a *analyticsEngine) noteAsset(key string, hits uint32, size int64) {
	found := false
	for i := range a.topAssets {
		if a.topAssets[i].Key == key {
			a.topAssets[i].Hits = hits
			a.topAssets[i].Size = size
			found = true
			break
		}
	}
	if !found {
		a.topAssets = append(a.topAssets, types.TopAsset{Key: key, Hits: hits, Size: size})
	}

	sort.SliceStable(a.topAssets, func(i, j int) bool {
		return a.topAssets[i].Hits > a.topAssets[j].Hits
	})
	if len(a.topAssets) > topAssetLimit {
		a.topAssets = a.topAssets[:topAssetLimit]
	}
}

func (a *analyticsEngine) dropAsset(key string) {
	for i := range a.topAssets {
		if a.topAssets[i].Key == key {
			a.topAssets = append(a.topAssets[:i], a.topAssets[i+1:]...)
			return
		}
	}
}

// snapshot copies the accumulated state. The suitability callback lets the
// store contribute per-partition liveness without the analytics engine
// holding a store reference.
func (a *analyticsEngine) snapshot(suitability func(types.EvictionStrategy) float64) types.AnalyticsSnapshot {
	snap := types.AnalyticsSnapshot{
		GlobalHits:     a.globalHits,
		GlobalMisses:   a.globalMisses,
		HitRate:        a.hitRate(),
		NetworkSavings: a.networkSavings,
		Strategies:     make(map[types.EvictionStrategy]types.StrategyMetrics, len(a.strategies)),
		TopAssets:      make([]types.TopAsset, len(a.topAssets)),
	}
	for strategy := range a.strategies {
		snap.Strategies[strategy] = a.metrics(strategy, suitability(strategy))
	}
	copy(snap.TopAssets, a.topAssets)
	return snap
}

// reset clears all accumulated analytics.
func (a *analyticsEngine) reset() {
	a.globalHits = 0
	a.globalMisses = 0
	a.networkSavings = 0
	a.topAssets = nil
	for _, strategy := range types.Strategies() {
		a.strategies[strategy] = &strategyCounters{}
	}
}
