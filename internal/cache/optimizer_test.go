package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bassnotion/assetcache/pkg/types"
)

type fakeCapabilities struct {
	snap types.CapabilitySnapshot
}

func (f *fakeCapabilities) Snapshot() types.CapabilitySnapshot {
	return f.snap
}

func TestOptimizeMemoryPressure(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	// 900/1000 bytes used, well above the 80% threshold.
	for i := 0; i < 9; i++ {
		c.Set(context.Background(), fmt.Sprintf("a-%d", i), make([]byte, 100), nil)
	}

	plan, err := c.Optimize(types.TriggerMemoryPressure)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}
	if len(plan.TargetEvictions) == 0 {
		t.Fatal("pressure cycle must target evictions")
	}
	if c.store.utilization() > 0.80 {
		t.Errorf("utilization %v still above threshold after plan", c.store.utilization())
	}
}

func TestOptimizeMemoryPressureNoop(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "small", make([]byte, 100), nil)

	plan, err := c.Optimize(types.TriggerMemoryPressure)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}
	if len(plan.TargetEvictions) != 0 {
		t.Error("no pressure means nothing targeted")
	}
	if plan.Reasoning.RiskAssessment != "low" {
		t.Errorf("risk = %s, want low", plan.Reasoning.RiskAssessment)
	}
}

func TestOptimizeDeviceConditionsOffline(t *testing.T) {
	caps := &fakeCapabilities{snap: types.CapabilitySnapshot{
		MemoryPressure: types.MemoryPressureLow,
		NetworkClass:   types.NetworkOffline,
		TakenAt:        time.Now(),
	}}
	c := newTestCache(t, nil, Dependencies{Capabilities: caps})

	c.Set(context.Background(), "used", make([]byte, 100), nil)
	c.Get(context.Background(), "used", nil)
	c.Set(context.Background(), "untouched", make([]byte, 100), nil)

	plan, err := c.Optimize(types.TriggerDeviceConditions)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}

	if len(plan.TargetEvictions) != 0 {
		t.Error("offline network must not evict anything")
	}
	if _, ok := plan.PriorityAdjustments["used"]; !ok {
		t.Error("accessed entries should be promoted while offline")
	}

	e, _, _ := c.store.lookup("used")
	if e.priority != types.PriorityHigh {
		t.Errorf("priority = %v after promotion, want high", e.priority)
	}
}

func TestOptimizeDeviceConditionsCriticalMemory(t *testing.T) {
	caps := &fakeCapabilities{snap: types.CapabilitySnapshot{
		MemoryPressure: types.MemoryPressureCritical,
		NetworkClass:   types.NetworkFast,
	}}
	c := newTestCache(t, nil, Dependencies{Capabilities: caps})

	for i := 0; i < 8; i++ {
		c.Set(context.Background(), fmt.Sprintf("a-%d", i), make([]byte, 100), nil)
	}

	if _, err := c.Optimize(types.TriggerDeviceConditions); err != nil {
		t.Fatalf("Optimize error = %v", err)
	}
	if c.store.totalSize > c.store.maxBytes/2 {
		t.Errorf("critical memory must trim to half capacity, still at %d", c.store.totalSize)
	}
}

func TestOptimizeDeviceConditionsWithoutSource(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "k", []byte("x"), nil)

	plan, err := c.Optimize(types.TriggerDeviceConditions)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}
	if len(plan.TargetEvictions) != 0 {
		t.Error("no capability source means nothing to react to")
	}
}

func TestOptimizeUsagePattern(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	for i := 0; i < 10; i++ {
		c.Set(context.Background(), fmt.Sprintf("idle-%d", i), make([]byte, 50), nil)
	}
	// Make them old with zero access history.
	old := time.Now().Add(-2 * time.Hour)
	c.store.each(func(_ int, e *entry) bool {
		e.createdAt = old
		return true
	})

	plan, err := c.Optimize(types.TriggerUsagePattern)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}

	// 20% of 10 entries.
	if len(plan.TargetEvictions) != 2 {
		t.Errorf("targeted %d, want 2", len(plan.TargetEvictions))
	}
}

func TestRiskAssessment(t *testing.T) {
	tests := []struct {
		targets int
		total   int
		want    string
	}{
		{0, 10, "low"},
		{3, 10, "moderate"},
		{6, 10, "high"},
		{0, 0, "low"},
	}
	for _, tt := range tests {
		if got := risk(tt.targets, tt.total); got != tt.want {
			t.Errorf("risk(%d, %d) = %s, want %s", tt.targets, tt.total, got, tt.want)
		}
	}
}
