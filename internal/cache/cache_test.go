package cache

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/pkg/types"
)

func newTestCache(t *testing.T, mutate func(*config.Configuration), deps Dependencies) *AssetCache {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Cache.MaxSize = "1000B"
	cfg.Cache.MaxEntries = 100
	cfg.Cache.DefaultTTL = time.Minute
	cfg.Cache.StaleWindow = time.Minute
	cfg.Optimization.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	c, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Dispose)
	return c
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Cache.MaxEntries = 0
	if _, err := New(cfg, Dependencies{}); err == nil {
		t.Error("expected construction error for invalid config")
	}
}

func TestRoundTrip(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	payload := []byte{0x00, 0xff, 0x10, 0x7f, 0x80, 0x01}
	if !c.Set(context.Background(), "riff.wav", payload, nil) {
		t.Fatal("Set failed")
	}

	result, ok := c.Get(context.Background(), "riff.wav", nil)
	if !ok {
		t.Fatal("Get missed immediately after Set")
	}
	if !bytes.Equal(result.Payload, payload) {
		t.Error("payload not returned bit-for-bit")
	}
	if result.Source != types.SourceMemory || result.Stale {
		t.Errorf("unexpected source %s stale=%v", result.Source, result.Stale)
	}

	// The returned buffer is a copy; mutating it must not corrupt the cache.
	result.Payload[0] = 0xaa
	again, _ := c.Get(context.Background(), "riff.wav", nil)
	if !bytes.Equal(again.Payload, payload) {
		t.Error("caller mutation leaked into the cached payload")
	}
}

func TestRejectsEmptyPayload(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	if c.Set(context.Background(), "empty", nil, nil) {
		t.Error("empty payload must be rejected")
	}
}

func TestCapacityInvariant(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("asset-%d", rng.Intn(50))
		size := 1 + rng.Intn(400)
		c.Set(context.Background(), key, make([]byte, size), nil)

		if c.store.totalSize > c.store.maxBytes {
			t.Fatalf("totalSize %d exceeds max %d after op %d", c.store.totalSize, c.store.maxBytes, i)
		}
		if c.store.count > c.store.maxEntries {
			t.Fatalf("count %d exceeds max %d after op %d", c.store.count, c.store.maxEntries, i)
		}
	}
}

func TestInsertEvictsUnderSpacePressure(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	if !c.Set(context.Background(), "A", make([]byte, 600), nil) {
		t.Fatal("Set A failed")
	}
	if !c.Set(context.Background(), "B", make([]byte, 600), nil) {
		t.Fatal("Set B should succeed by evicting A")
	}

	if c.Has("A") {
		t.Error("A should have been evicted")
	}
	if !c.Has("B") {
		t.Error("B should be present")
	}
	if c.store.totalSize != 600 {
		t.Errorf("totalSize = %d, want 600", c.store.totalSize)
	}
}

func TestRejectedReplaceKeepsOldEntry(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	original := bytes.Repeat([]byte{0x5a}, 600)
	if !c.Set(context.Background(), "k", original, nil) {
		t.Fatal("initial Set failed")
	}

	// Larger than the whole cache: no amount of eviction can make it fit.
	if c.Set(context.Background(), "k", make([]byte, 2000), nil) {
		t.Fatal("oversized replacement must be rejected")
	}

	if !c.Has("k") {
		t.Fatal("rejected replacement destroyed the resident entry")
	}
	result, ok := c.Get(context.Background(), "k", nil)
	if !ok || !bytes.Equal(result.Payload, original) {
		t.Error("resident payload must survive a rejected replacement untouched")
	}
	if c.store.totalSize != 600 {
		t.Errorf("totalSize = %d, want 600", c.store.totalSize)
	}
}

func TestProtectionEarnedAndHonored(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	c.Set(context.Background(), "C", make([]byte, 600), nil)
	for i := 0; i < 3; i++ {
		if _, ok := c.Get(context.Background(), "C", nil); !ok {
			t.Fatal("Get C failed")
		}
	}

	e, _, _ := c.store.lookup("C")
	if !e.protected {
		t.Fatal("three hits must earn eviction protection")
	}

	// C is the only candidate and it is protected: the write is rejected,
	// C survives.
	if c.Set(context.Background(), "D", make([]byte, 600), nil) {
		t.Error("Set D should fail when only a protected entry could be evicted")
	}
	if !c.Has("C") {
		t.Error("protected entry C was evicted")
	}
}

func TestTTLBoundary(t *testing.T) {
	now := time.Now()
	e := newEntry("k", []byte("x"), now)
	e.ttl = 10 * time.Minute

	if e.expired(now.Add(10 * time.Minute)) {
		t.Error("age exactly equal to TTL must still be valid")
	}
	if !e.expired(now.Add(10*time.Minute + time.Nanosecond)) {
		t.Error("age past TTL must be expired")
	}
}

func TestExpiredBeyondStaleEvicted(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Configuration) {
		cfg.Cache.DefaultTTL = 20 * time.Millisecond
		cfg.Cache.StaleWindow = 10 * time.Millisecond
	}, Dependencies{})

	c.Set(context.Background(), "k", []byte("x"), nil)
	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get(context.Background(), "k", nil); ok {
		t.Error("entry past TTL and stale window must miss")
	}
	if _, _, ok := c.store.lookup("k"); ok {
		t.Error("expired entry must be evicted on read")
	}
}

func TestStaleServeWithRefresh(t *testing.T) {
	var fetches int32
	fetcher := types.AssetFetcherFunc(func(_ context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("fresh"), nil
	})

	c := newTestCache(t, func(cfg *config.Configuration) {
		cfg.Cache.DefaultTTL = 20 * time.Millisecond
		cfg.Cache.StaleWindow = 10 * time.Second
	}, Dependencies{Fetcher: fetcher})

	c.Set(context.Background(), "k", []byte("stale"), nil)
	time.Sleep(40 * time.Millisecond)

	result, ok := c.Get(context.Background(), "k", nil)
	if !ok {
		t.Fatal("entry inside stale window must still be served")
	}
	if !result.Stale || result.Source != types.SourceStale {
		t.Error("stale serve must be marked stale")
	}
	if string(result.Payload) != "stale" {
		t.Error("stale serve must return the old payload")
	}

	// The background refresh replaces the payload and restarts the TTL.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, ok = c.Get(context.Background(), "k", nil)
		if ok && !result.Stale && string(result.Payload) == "fresh" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !ok || result.Stale || string(result.Payload) != "fresh" {
		t.Fatal("refresh never landed")
	}
	if n := atomic.LoadInt32(&fetches); n < 1 {
		t.Errorf("expected at least one refresh fetch, got %d", n)
	}
}

func TestStaleServeRecordsEntryMiss(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Configuration) {
		cfg.Cache.DefaultTTL = 10 * time.Millisecond
		cfg.Cache.StaleWindow = 10 * time.Second
	}, Dependencies{})

	c.Set(context.Background(), "k", []byte("old"), nil)
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(context.Background(), "k", nil); !ok {
		t.Fatal("entry inside the stale window must be served")
	}

	e, _, ok := c.store.lookup("k")
	if !ok {
		t.Fatal("stale serve must not evict the entry")
	}
	if e.missCount != 1 {
		t.Errorf("missCount = %d after one stale serve, want 1", e.missCount)
	}
	if e.hitCount != 1 {
		t.Errorf("hitCount = %d, stale serve still counts as a hit", e.hitCount)
	}
}

func TestStaleRefreshDeduplicated(t *testing.T) {
	var fetches int32
	block := make(chan struct{})
	fetcher := types.AssetFetcherFunc(func(_ context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		<-block
		return []byte("fresh"), nil
	})

	c := newTestCache(t, func(cfg *config.Configuration) {
		cfg.Cache.DefaultTTL = 10 * time.Millisecond
		cfg.Cache.StaleWindow = 10 * time.Second
	}, Dependencies{Fetcher: fetcher})

	c.Set(context.Background(), "k", []byte("stale"), nil)
	time.Sleep(30 * time.Millisecond)

	// Two stale reads while the first refresh is still blocked: the second
	// must join the in-flight refresh, not start another.
	c.Get(context.Background(), "k", nil)
	time.Sleep(50 * time.Millisecond)
	c.Get(context.Background(), "k", nil)
	time.Sleep(50 * time.Millisecond)
	close(block)

	// Let the refresh goroutines finish before counting.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("expected exactly one deduplicated fetch, got %d", n)
	}
}

func TestCorruptEntryEvictedOnRead(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "k", []byte("good"), nil)

	// Corrupt the stored payload behind the checksum's back.
	e, _, _ := c.store.lookup("k")
	e.payload[0] ^= 0xff

	if _, ok := c.Get(context.Background(), "k", nil); ok {
		t.Error("corrupt payload must read as a miss")
	}
	if _, _, ok := c.store.lookup("k"); ok {
		t.Error("corrupt entry must be evicted")
	}
}

func TestHasIsFreshnessAware(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Configuration) {
		cfg.Cache.DefaultTTL = 20 * time.Millisecond
		cfg.Cache.StaleWindow = 0
	}, Dependencies{})

	c.Set(context.Background(), "k", []byte("x"), nil)
	if !c.Has("k") {
		t.Error("fresh entry should be present")
	}

	time.Sleep(40 * time.Millisecond)
	if c.Has("k") {
		t.Error("expired entry must count as absent")
	}
	if _, _, ok := c.store.lookup("k"); ok {
		t.Error("Has must evict the expired entry as a side effect")
	}
}

func TestDeleteIgnoresProtection(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "k", []byte("x"), nil)
	for i := 0; i < 3; i++ {
		c.Get(context.Background(), "k", nil)
	}

	if !c.Delete("k") {
		t.Error("explicit delete must succeed on a protected entry")
	}
	if c.Delete("k") {
		t.Error("second delete should return false")
	}
}

func TestClearWithFilter(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "drums/kick.wav", []byte("x"), nil)
	c.Set(context.Background(), "drums/snare.wav", []byte("x"), nil)
	c.Set(context.Background(), "bass/line.mid", []byte("x"), nil)

	removed := c.Clear(func(key string) bool {
		return len(key) > 6 && key[:6] == "drums/"
	})
	if removed != 2 {
		t.Errorf("Clear removed %d, want 2", removed)
	}
	if !c.Has("bass/line.mid") {
		t.Error("unmatched entry was removed")
	}
}

func TestFullClearResetsAnalytics(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "k", []byte("x"), nil)
	c.Get(context.Background(), "k", nil)

	c.Clear(nil)

	stats := c.Stats()
	if stats.TotalEntries != 0 || stats.HitRate != 0 || len(stats.TopAssets) != 0 {
		t.Errorf("full clear left analytics behind: %+v", stats)
	}
}

func TestStatsIdempotent(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "a", make([]byte, 100), nil)
	c.Get(context.Background(), "a", nil)
	c.Get(context.Background(), "missing", nil)

	first := c.Stats()
	second := c.Stats()
	if first.HitRate != second.HitRate {
		t.Errorf("hit rate changed between reads: %v then %v", first.HitRate, second.HitRate)
	}
	if first.TotalSize != second.TotalSize || first.TotalEntries != second.TotalEntries {
		t.Error("stats changed without intervening operations")
	}
	if first.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", first.HitRate)
	}
}

func TestSetStrategyPartition(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "k", []byte("x"), &types.SetOptions{Strategy: types.StrategyLFU})

	e, _, ok := c.store.lookup("k")
	if !ok || e.strategy != types.StrategyLFU {
		t.Error("entry not placed in the requested partition")
	}

	// Replacing the key moves it to the new partition with no leftovers.
	c.Set(context.Background(), "k", []byte("y"), &types.SetOptions{Strategy: types.StrategyTTL})
	if len(c.store.partitions[types.StrategyLFU].slots) != 0 {
		t.Error("old partition still holds the replaced entry")
	}
	if c.store.count != 1 {
		t.Errorf("count = %d after replace, want 1", c.store.count)
	}
}

func TestDisposeStopsBackgroundWork(t *testing.T) {
	c := newTestCache(t, func(cfg *config.Configuration) {
		cfg.Optimization.Enabled = true
		cfg.Optimization.Interval = 10 * time.Millisecond
		cfg.Cache.CleanupInterval = 10 * time.Millisecond
	}, Dependencies{})

	c.Set(context.Background(), "k", []byte("x"), nil)
	c.Dispose()

	if c.store.count != 0 {
		t.Error("Dispose must leave the cache empty")
	}
	if _, ok := c.Get(context.Background(), "k", nil); ok {
		t.Error("Get after Dispose must miss")
	}
	if c.Set(context.Background(), "k", []byte("x"), nil) {
		t.Error("Set after Dispose must be rejected")
	}

	// Second Dispose is a no-op, not a panic.
	c.Dispose()
}

func TestOptimizeDegradationCycle(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})

	// Old, never-hit entries are low value; a well-hit one is protected.
	old := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("cold-%d", i)
		c.Set(context.Background(), key, make([]byte, 50), nil)
		e, _, _ := c.store.lookup(key)
		e.createdAt = old
	}
	c.Set(context.Background(), "hot", make([]byte, 50), nil)
	for i := 0; i < 3; i++ {
		c.Get(context.Background(), "hot", nil)
	}

	plan, err := c.Optimize(types.TriggerPerformanceDegradation)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}

	// 30% of 7 entries rounds down to 2 targets.
	if len(plan.TargetEvictions) != 2 {
		t.Errorf("targeted %d entries, want 2", len(plan.TargetEvictions))
	}
	if plan.Reasoning.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8 for >5 entries", plan.Reasoning.Confidence)
	}
	if !c.Has("hot") {
		t.Error("well-hit entry must survive the degradation cycle")
	}
}

func TestOptimizeSmallSampleConfidence(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	c.Set(context.Background(), "only", []byte("x"), nil)

	plan, err := c.Optimize(types.TriggerScheduled)
	if err != nil {
		t.Fatalf("Optimize error = %v", err)
	}
	if plan.Reasoning.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 for small caches", plan.Reasoning.Confidence)
	}
}

func TestOptimizeUnknownTrigger(t *testing.T) {
	c := newTestCache(t, nil, Dependencies{})
	if _, err := c.Optimize(types.OptimizationTrigger("defrag")); err == nil {
		t.Error("unknown trigger must report an error, not panic")
	}
}
