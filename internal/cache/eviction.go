package cache

import (
	"sort"
	"time"

	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// Composite score weights for analytics-driven strategy selection.
const (
	weightHitRate     = 0.5
	weightMemoryEff   = 0.3
	weightSuitability = 0.2
)

// evictionEngine selects victims and removes them from the store. It is
// the only component allowed to free entries under pressure; explicit
// deletes go through the cache facade.
type evictionEngine struct {
	store     *entryStore
	analytics *analyticsEngine

	primary            types.EvictionStrategy
	pressureThreshold  float64
	emergencyThreshold float64

	logger  *utils.StructuredLogger
	metrics types.MetricsCollector
}

// selectStrategy picks the eviction strategy for the current pressure
// tier. Emergency pressure forces lru, which needs no analytics. Plain
// pressure uses lfu to keep hot data. Otherwise the strategy with the best
// composite analytics score wins, falling back to the configured primary
// when there are no samples yet.
func (ev *evictionEngine) selectStrategy() types.EvictionStrategy {
	utilization := ev.store.utilization()
	if utilization > ev.emergencyThreshold {
		return types.StrategyLRU
	}
	if utilization > ev.pressureThreshold {
		return types.StrategyLFU
	}
	if !ev.analytics.hasSamples() {
		return ev.primary
	}

	best := ev.primary
	bestScore := -1.0
	for _, strategy := range types.Strategies() {
		m := ev.analytics.metrics(strategy, ev.store.suitability(strategy))
		if m.Samples() == 0 {
			continue
		}
		score := weightHitRate*m.HitRate +
			weightMemoryEff*m.MemoryEfficiency +
			weightSuitability*m.SuitabilityScore
		if score > bestScore {
			bestScore = score
			best = strategy
		}
	}
	return best
}

// victimLess orders eviction candidates for a strategy, victim first.
// Ties break by insertion sequence, oldest insertion first.
func victimLess(strategy types.EvictionStrategy, a, b *entry, now time.Time) bool {
	switch strategy {
	case types.StrategyLRU:
		if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
			return a.lastAccessedAt.Before(b.lastAccessedAt)
		}
	case types.StrategyLFU:
		if a.hitCount != b.hitCount {
			return a.hitCount < b.hitCount
		}
	case types.StrategyFIFO:
		return a.insertionSeq < b.insertionSeq
	case types.StrategyLIFO:
		return a.insertionSeq > b.insertionSeq
	case types.StrategyPriority:
		if a.priority != b.priority {
			return a.priority < b.priority
		}
	case types.StrategyTTL:
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
	case types.StrategySize:
		if a.size != b.size {
			return a.size > b.size
		}
	case types.StrategyAdaptive:
		pa := popularity(a.hitCount, now.Sub(a.lastAccessedAt))
		pb := popularity(b.hitCount, now.Sub(b.lastAccessedAt))
		if pa != pb {
			return pa < pb
		}
	case types.StrategyPredictive:
		ra := a.predictedReuse(now)
		rb := b.predictedReuse(now)
		if ra != rb {
			return ra < rb
		}
	}
	return a.insertionSeq < b.insertionSeq
}

// candidates returns every unprotected slot, ordered victim first by the
// strategy's rule. Protection is a hard guarantee: protected entries never
// appear in the candidate set.
func (ev *evictionEngine) candidates(strategy types.EvictionStrategy, now time.Time) []int {
	var slots []int
	ev.store.each(func(slot int, e *entry) bool {
		if !e.protected {
			slots = append(slots, slot)
		}
		return true
	})

	sort.SliceStable(slots, func(i, j int) bool {
		return victimLess(strategy, ev.store.slots[slots[i]], ev.store.slots[slots[j]], now)
	})
	return slots
}

// makeSpace evicts until the store can absorb requiredBytes more payload
// and one more entry, or until candidates run out. Returns whether the
// target was met. It never evicts a protected entry; if only protected
// entries remain the shortfall is reported as false.
func (ev *evictionEngine) makeSpace(requiredBytes int64, now time.Time) bool {
	if requiredBytes > ev.store.maxBytes {
		return false
	}
	if ev.store.fits(requiredBytes) {
		return true
	}

	strategy := ev.selectStrategy()
	victims := ev.candidates(strategy, now)

	for _, slot := range victims {
		ev.evict(slot, types.ReasonCapacityPressure)
		if ev.store.fits(requiredBytes) {
			return true
		}
	}

	met := ev.store.fits(requiredBytes)
	if !met {
		ev.logger.Warn("eviction could not free enough space", map[string]interface{}{
			"required_bytes": requiredBytes,
			"total_size":     ev.store.totalSize,
			"strategy":       string(strategy),
		})
	}
	return met
}

// evict frees one slot, attributing the eviction to the entry's own
// partition regardless of which strategy ordered it out.
func (ev *evictionEngine) evict(slot int, reason types.EvictionReason) *entry {
	e := ev.store.remove(slot)
	if e == nil {
		return nil
	}

	ev.store.partitions[e.strategy].evictionCount++
	ev.analytics.recordEviction(e.strategy, e.key, e.size)
	ev.metrics.RecordEviction(e.strategy, reason, e.size)
	ev.logger.Debug("evicted entry", map[string]interface{}{
		"key":    e.key,
		"size":   e.size,
		"reason": string(reason),
	})
	return e
}

// evictKey frees the entry holding key, if present.
func (ev *evictionEngine) evictKey(key string, reason types.EvictionReason) *entry {
	slot, ok := ev.store.index[key]
	if !ok {
		return nil
	}
	return ev.evict(slot, reason)
}
