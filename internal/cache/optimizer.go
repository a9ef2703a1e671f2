package cache

import (
	"fmt"
	"time"

	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

const (
	// lowValueMaxHits and lowValueMinAge define a low-value entry for the
	// degradation cycle: rarely hit and old enough to have had a chance.
	lowValueMaxHits = 2
	lowValueMinAge  = time.Hour

	// degradationShare caps how much of the cache one degradation cycle
	// may target.
	degradationShare = 0.30
	// patternShare caps the usage-pattern cycle the same way.
	patternShare = 0.20
)

// optimizationController builds and applies optimization plans. It runs
// entirely inside the cache's critical section; the caller holds the lock.
type optimizationController struct {
	capabilities    types.CapabilitySource
	degradedHitRate float64
	logger          *utils.StructuredLogger
}

// run executes one cycle: build a plan for the trigger, then apply it.
// Any internal failure, panics included, is converted into an error and
// the cycle is skipped with the store untouched beyond already-applied
// evictions of the plan walk.
func (o *optimizationController) run(c *AssetCache, trigger types.OptimizationTrigger) (plan types.OptimizationPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodePanicRecovered,
				fmt.Sprintf("optimization cycle panicked: %v", r)).
				WithOperation(string(trigger))
			o.logger.Error("optimization cycle panicked", map[string]interface{}{
				"trigger": string(trigger),
				"panic":   fmt.Sprint(r),
			})
		}
	}()

	now := time.Now()

	switch trigger {
	case types.TriggerScheduled:
		plan = o.planScheduled(c, now)
	case types.TriggerMemoryPressure:
		plan = o.planMemoryPressure(c, now)
	case types.TriggerPerformanceDegradation:
		plan = o.planDegradation(c, now)
	case types.TriggerUsagePattern:
		plan = o.planUsagePattern(c, now)
	case types.TriggerDeviceConditions:
		plan = o.planDeviceConditions(c, now)
	default:
		return plan, errors.New(errors.ErrCodeOptimizationError,
			fmt.Sprintf("unknown optimization trigger: %s", trigger))
	}

	plan.Trigger = trigger
	plan.CreatedAt = now
	plan.Reasoning.Confidence = confidence(c.store.count)
	plan.Reasoning.RiskAssessment = risk(len(plan.TargetEvictions), c.store.count)

	o.apply(c, &plan)
	return plan, nil
}

// planScheduled is the routine pass: no evictions beyond what the sweep
// already handles, just priority nudges from popularity drift.
func (o *optimizationController) planScheduled(c *AssetCache, now time.Time) types.OptimizationPlan {
	plan := types.OptimizationPlan{
		Strategy:            c.eviction.selectStrategy(),
		PriorityAdjustments: make(map[string]float64),
	}

	c.store.each(func(_ int, e *entry) bool {
		score := popularity(e.hitCount, now.Sub(e.lastAccessedAt))
		if score >= 0.7 && e.priority < types.PriorityHigh {
			plan.PriorityAdjustments[e.key] = 1
		} else if score < 0.2 && e.priority > types.PriorityLow {
			plan.PriorityAdjustments[e.key] = -1
		}
		return true
	})

	plan.Reasoning.Summary = fmt.Sprintf("scheduled pass, %d priority adjustments", len(plan.PriorityAdjustments))
	return plan
}

// planMemoryPressure targets unprotected victims until utilization would
// drop back under the pressure threshold.
func (o *optimizationController) planMemoryPressure(c *AssetCache, now time.Time) types.OptimizationPlan {
	strategy := c.eviction.selectStrategy()
	plan := types.OptimizationPlan{Strategy: strategy}

	targetBytes := int64(float64(c.store.maxBytes) * c.eviction.pressureThreshold)
	excess := c.store.totalSize - targetBytes
	if excess <= 0 {
		plan.Reasoning.Summary = "no memory pressure, nothing targeted"
		return plan
	}

	var freed int64
	for _, slot := range c.eviction.candidates(strategy, now) {
		e := c.store.slots[slot]
		plan.TargetEvictions = append(plan.TargetEvictions, e.key)
		freed += e.size
		if freed >= excess {
			break
		}
	}

	plan.Reasoning.Summary = fmt.Sprintf("memory pressure, targeting %d entries to free %d bytes",
		len(plan.TargetEvictions), freed)
	return plan
}

// planDegradation marks low-value entries (rarely hit and older than an
// hour) for eviction, capped at 30% of the cache, and re-asserts
// protection on well-hit entries.
func (o *optimizationController) planDegradation(c *AssetCache, now time.Time) types.OptimizationPlan {
	plan := types.OptimizationPlan{Strategy: c.eviction.selectStrategy()}

	limit := int(float64(c.store.count) * degradationShare)
	c.store.each(func(_ int, e *entry) bool {
		if e.hitCount >= protectionThreshold {
			e.protected = true
			return true
		}
		if e.protected {
			return true
		}
		if e.hitCount < lowValueMaxHits && e.age(now) > lowValueMinAge && len(plan.TargetEvictions) < limit {
			plan.TargetEvictions = append(plan.TargetEvictions, e.key)
		}
		return true
	})

	plan.Reasoning.Summary = fmt.Sprintf("performance degradation, %d low-value entries targeted",
		len(plan.TargetEvictions))
	return plan
}

// planUsagePattern drops entries whose access history predicts no reuse
// in current conditions, capped at 20% of the cache, and bumps entries
// whose pattern matches the present hour.
func (o *optimizationController) planUsagePattern(c *AssetCache, now time.Time) types.OptimizationPlan {
	plan := types.OptimizationPlan{
		Strategy:            c.eviction.selectStrategy(),
		PriorityAdjustments: make(map[string]float64),
	}

	limit := int(float64(c.store.count) * patternShare)
	c.store.each(func(_ int, e *entry) bool {
		reuse := e.predictedReuse(now)
		switch {
		case e.protected:
		case reuse == 0 && e.age(now) > lowValueMinAge && len(plan.TargetEvictions) < limit:
			plan.TargetEvictions = append(plan.TargetEvictions, e.key)
		case reuse >= 0.5 && e.priority < types.PriorityHigh:
			plan.PriorityAdjustments[e.key] = 1
		}
		return true
	})

	plan.Reasoning.Summary = fmt.Sprintf("usage pattern, %d targeted, %d promoted",
		len(plan.TargetEvictions), len(plan.PriorityAdjustments))
	return plan
}

// planDeviceConditions reacts to the capability snapshot. Critical memory
// trims like a pressure cycle but down to half capacity; an offline
// network forbids evictions entirely, since nothing evicted can be
// refetched.
func (o *optimizationController) planDeviceConditions(c *AssetCache, now time.Time) types.OptimizationPlan {
	plan := types.OptimizationPlan{Strategy: c.eviction.selectStrategy()}
	if o.capabilities == nil {
		plan.Reasoning.Summary = "no capability source, nothing to do"
		return plan
	}

	snap := o.capabilities.Snapshot()

	if snap.NetworkClass == types.NetworkOffline {
		plan.PriorityAdjustments = make(map[string]float64)
		c.store.each(func(_ int, e *entry) bool {
			if e.hitCount > 0 && e.priority < types.PriorityHigh {
				plan.PriorityAdjustments[e.key] = 1
			}
			return true
		})
		plan.Reasoning.Summary = "offline network, holding all entries and raising priorities"
		return plan
	}

	if snap.MemoryPressure == types.MemoryPressureCritical {
		targetBytes := c.store.maxBytes / 2
		var freed int64
		for _, slot := range c.eviction.candidates(plan.Strategy, now) {
			if c.store.totalSize-freed <= targetBytes {
				break
			}
			e := c.store.slots[slot]
			plan.TargetEvictions = append(plan.TargetEvictions, e.key)
			freed += e.size
		}
		plan.Reasoning.Summary = fmt.Sprintf("critical device memory, trimming to half capacity, %d targeted",
			len(plan.TargetEvictions))
		return plan
	}

	plan.Reasoning.Summary = fmt.Sprintf("device conditions nominal (memory %s, network %s)",
		snap.MemoryPressure, snap.NetworkClass)
	return plan
}

// apply executes the plan: targeted keys are evicted, surviving entries
// receive their priority adjustments. Protected entries are never evicted
// by a plan, whatever the plan says.
func (o *optimizationController) apply(c *AssetCache, plan *types.OptimizationPlan) {
	evicted := 0
	for _, key := range plan.TargetEvictions {
		e, _, ok := c.store.lookup(key)
		if !ok || e.protected {
			continue
		}
		c.eviction.evictKey(key, types.ReasonOptimization)
		evicted++
	}

	for key, delta := range plan.PriorityAdjustments {
		e, _, ok := c.store.lookup(key)
		if !ok {
			continue
		}
		switch {
		case delta > 0 && e.priority < types.PriorityHigh:
			e.priority++
		case delta < 0 && e.priority > types.PriorityLow:
			e.priority--
		}
	}

	if evicted > 0 || len(plan.PriorityAdjustments) > 0 {
		o.logger.Info("optimization plan applied", map[string]interface{}{
			"trigger":     string(plan.Trigger),
			"evicted":     evicted,
			"adjustments": len(plan.PriorityAdjustments),
		})
	}
}

func confidence(sampleSize int) float64 {
	if sampleSize > 5 {
		return 0.8
	}
	return 0.5
}

func risk(targets, total int) string {
	if total > 0 && float64(targets) > 0.5*float64(total) {
		return "high"
	}
	if targets > 0 {
		return "moderate"
	}
	return "low"
}
