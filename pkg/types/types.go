package types

import (
	"fmt"
	"strings"
	"time"
)

// EvictionStrategy names the rule used to order eviction candidates.
type EvictionStrategy string

const (
	StrategyLRU        EvictionStrategy = "lru"
	StrategyLFU        EvictionStrategy = "lfu"
	StrategyFIFO       EvictionStrategy = "fifo"
	StrategyLIFO       EvictionStrategy = "lifo"
	StrategyPriority   EvictionStrategy = "priority"
	StrategyTTL        EvictionStrategy = "ttl"
	StrategySize       EvictionStrategy = "size"
	StrategyAdaptive   EvictionStrategy = "adaptive"
	StrategyPredictive EvictionStrategy = "predictive"
)

// Strategies returns the fixed strategy set, in partition order.
func Strategies() []EvictionStrategy {
	return []EvictionStrategy{
		StrategyLRU, StrategyLFU, StrategyFIFO, StrategyLIFO,
		StrategyPriority, StrategyTTL, StrategySize,
		StrategyAdaptive, StrategyPredictive,
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (EvictionStrategy, error) {
	strategy := EvictionStrategy(strings.ToLower(s))
	for _, known := range Strategies() {
		if strategy == known {
			return strategy, nil
		}
	}
	return "", fmt.Errorf("unknown eviction strategy: %s", s)
}

// Priority ranks an entry's importance for priority-based eviction.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority: %s", s)
	}
}

// EvictionReason records why an entry left the cache.
type EvictionReason string

const (
	ReasonCapacityPressure EvictionReason = "capacity_pressure"
	ReasonTTLExpired       EvictionReason = "ttl_expired"
	ReasonManualEviction   EvictionReason = "manual_eviction"
	ReasonOptimization     EvictionReason = "optimization"
)

// LoadSource says where a successful Get was served from.
type LoadSource string

const (
	SourceMemory LoadSource = "memory"
	SourceStale  LoadSource = "stale"
)

// LoadResult is the outcome of a successful cache read. Payload is a copy
// owned by the caller; the cache never hands out its internal buffer.
type LoadResult struct {
	Key      string     `json:"key"`
	Payload  []byte     `json:"-"`
	Size     int64      `json:"size"`
	Source   LoadSource `json:"source"`
	Stale    bool       `json:"stale"`
	HitCount uint32     `json:"hit_count"`
	Age      time.Duration
}

// GetContext carries optional per-read hints.
type GetContext struct {
	// Requester names the consuming component, used only for logging.
	Requester string
}

// SetOptions carries optional per-write hints.
type SetOptions struct {
	// Strategy assigns the entry to a specific partition. Empty means the
	// cache's primary strategy.
	Strategy EvictionStrategy
	// Priority defaults to PriorityMedium when unset via UsePriority.
	Priority    Priority
	UsePriority bool
	// StaleTolerance overrides the configured serve-stale window.
	StaleTolerance time.Duration
}

// PrefetchRequest asks the scheduler to speculatively load one asset.
// Ephemeral: consumed by a single Prefetch call.
type PrefetchRequest struct {
	AssetKey            string        `json:"asset_key"`
	Priority            float64       `json:"priority"`   // [0,1]
	Confidence          float64       `json:"confidence"` // [0,1]
	EstimatedAccessTime time.Time     `json:"estimated_access_time"`
	MaxDelay            time.Duration `json:"max_delay"`
}

// Rank orders prefetch requests; higher is fetched first.
func (r PrefetchRequest) Rank() float64 {
	return r.Priority * r.Confidence
}

// PrefetchResult summarizes one prefetch batch.
type PrefetchResult struct {
	Successful     []string `json:"successful"`
	Failed         []string `json:"failed"`
	Skipped        []string `json:"skipped"`
	TotalBandwidth int64    `json:"total_bandwidth"`
}

// StrategyMetrics aggregates per-partition performance counters.
type StrategyMetrics struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	BytesServed  int64  `json:"bytes_served"`
	BytesEvicted int64  `json:"bytes_evicted"`

	HitRate          float64 `json:"hit_rate"`
	EvictionRate     float64 `json:"eviction_rate"`
	MemoryEfficiency float64 `json:"memory_efficiency"`
	SuitabilityScore float64 `json:"suitability_score"`
}

// Samples reports how many observations back this metric set.
func (m StrategyMetrics) Samples() uint64 {
	return m.Hits + m.Misses + m.Evictions
}

// TopAsset is one entry of the bounded most-hit list.
type TopAsset struct {
	Key  string `json:"key"`
	Hits uint32 `json:"hits"`
	Size int64  `json:"size"`
}

// PartitionStats describes one strategy partition.
type PartitionStats struct {
	Strategy      EvictionStrategy `json:"strategy"`
	EntryCount    int              `json:"entry_count"`
	TotalSize     int64            `json:"total_size"`
	EvictionCount uint64           `json:"eviction_count"`
	HitRate       float64          `json:"hit_rate"`
}

// AnalyticsSnapshot is a point-in-time copy of accumulated analytics.
type AnalyticsSnapshot struct {
	GlobalHits     uint64                               `json:"global_hits"`
	GlobalMisses   uint64                               `json:"global_misses"`
	HitRate        float64                              `json:"hit_rate"`
	NetworkSavings int64                                `json:"network_savings"`
	Strategies     map[EvictionStrategy]StrategyMetrics `json:"strategies"`
	TopAssets      []TopAsset                           `json:"top_assets"`
}

// CacheStats is the public stats surface returned by Stats().
type CacheStats struct {
	TotalEntries        int                                  `json:"total_entries"`
	TotalSize           int64                                `json:"total_size"`
	Capacity            int64                                `json:"capacity"`
	Utilization         float64                              `json:"utilization"`
	HitRate             float64                              `json:"hit_rate"`
	NetworkSavings      int64                                `json:"network_savings"`
	PartitionStats      map[EvictionStrategy]PartitionStats  `json:"partition_stats"`
	TopAssets           []TopAsset                           `json:"top_assets"`
	StrategyPerformance map[EvictionStrategy]StrategyMetrics `json:"strategy_performance"`
}

// OptimizationTrigger names what started an optimization cycle.
type OptimizationTrigger string

const (
	TriggerScheduled              OptimizationTrigger = "scheduled"
	TriggerMemoryPressure         OptimizationTrigger = "memory_pressure"
	TriggerPerformanceDegradation OptimizationTrigger = "performance_degradation"
	TriggerUsagePattern           OptimizationTrigger = "usage_pattern"
	TriggerDeviceConditions       OptimizationTrigger = "device_conditions"
)

// PlanReasoning explains an optimization plan.
type PlanReasoning struct {
	Summary        string  `json:"summary"`
	Confidence     float64 `json:"confidence"`
	RiskAssessment string  `json:"risk_assessment"`
}

// OptimizationPlan is produced and consumed within one optimization cycle.
type OptimizationPlan struct {
	Trigger             OptimizationTrigger `json:"trigger"`
	Strategy            EvictionStrategy    `json:"strategy"`
	TargetEvictions     []string            `json:"target_evictions"`
	PriorityAdjustments map[string]float64  `json:"priority_adjustments"`
	Reasoning           PlanReasoning       `json:"reasoning"`
	CreatedAt           time.Time           `json:"created_at"`
}

// MemoryPressure classifies the device memory headroom.
type MemoryPressure string

const (
	MemoryPressureLow      MemoryPressure = "low"
	MemoryPressureModerate MemoryPressure = "moderate"
	MemoryPressureCritical MemoryPressure = "critical"
)

// NetworkClass classifies the current network conditions.
type NetworkClass string

const (
	NetworkFast        NetworkClass = "fast"
	NetworkConstrained NetworkClass = "constrained"
	NetworkOffline     NetworkClass = "offline"
)

// CapabilitySnapshot is the device/network state the optimizer reads.
type CapabilitySnapshot struct {
	MemoryPressure MemoryPressure `json:"memory_pressure"`
	NetworkClass   NetworkClass   `json:"network_class"`
	TakenAt        time.Time      `json:"taken_at"`
}
