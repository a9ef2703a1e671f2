package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// Dependencies are the external collaborators injected at construction.
// Only Fetcher is commonly set; everything else has a working default.
type Dependencies struct {
	// Fetcher loads asset bytes from the remote source. Nil disables
	// prefetching and stale refresh.
	Fetcher types.AssetFetcher
	// Capabilities supplies device and network conditions to the
	// optimizer. Nil means conditions are never consulted.
	Capabilities types.CapabilitySource
	// Durable receives write-behind copies for warm starts. Nil disables
	// the durable tier.
	Durable types.DurableStore
	// Logger defaults to a no-op logger.
	Logger *utils.StructuredLogger
	// Metrics defaults to types.NopMetrics.
	Metrics types.MetricsCollector
}

type writeBehindOp struct {
	key     string
	payload []byte // nil means delete
}

// AssetCache is the adaptive asset-caching engine. One mutex serializes
// every operation, including reads, because reads mutate access metadata.
// Payloads are copied at both boundaries so callers never share a buffer
// with the store.
type AssetCache struct {
	mu sync.Mutex

	store     *entryStore
	analytics *analyticsEngine
	eviction  *evictionEngine
	prefetch  *prefetchScheduler
	optimizer *optimizationController

	fetcher types.AssetFetcher
	durable types.DurableStore
	logger  *utils.StructuredLogger
	metrics types.MetricsCollector

	primary        types.EvictionStrategy
	defaultTTL     time.Duration
	staleWindow    time.Duration
	fetchTimeout   time.Duration
	cleanupEvery   time.Duration
	optimizeEvery  time.Duration
	optimizeActive bool

	refreshGroup singleflight.Group

	writeBehind chan writeBehindOp

	disposed bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a cache from a validated configuration. Construction is the
// only place a misconfiguration is fatal; every later failure is absorbed
// into per-operation results.
func New(cfg *config.Configuration, deps Dependencies) (*AssetCache, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	maxBytes := cfg.CacheMaxSizeBytes()
	if maxBytes <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "cache.max_size must be positive")
	}

	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = types.NopMetrics{}
	}

	primary, err := types.ParseStrategy(cfg.Cache.PrimaryStrategy)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid primary strategy", err)
	}

	store := newEntryStore(maxBytes, cfg.Cache.MaxEntries)
	analytics := newAnalyticsEngine()

	c := &AssetCache{
		store:     store,
		analytics: analytics,
		fetcher:   deps.Fetcher,
		durable:   deps.Durable,
		logger:    logger.WithField("component", "assetcache"),
		metrics:   collector,

		primary:        primary,
		defaultTTL:     cfg.Cache.DefaultTTL,
		staleWindow:    cfg.Cache.StaleWindow,
		fetchTimeout:   cfg.Fetch.Timeout,
		cleanupEvery:   cfg.Cache.CleanupInterval,
		optimizeEvery:  cfg.Optimization.Interval,
		optimizeActive: cfg.Optimization.Enabled,

		stopCh: make(chan struct{}),
	}

	c.eviction = &evictionEngine{
		store:              store,
		analytics:          analytics,
		primary:            primary,
		pressureThreshold:  cfg.Optimization.PressureThreshold,
		emergencyThreshold: cfg.Optimization.EmergencyThreshold,
		logger:             c.logger,
		metrics:            collector,
	}

	c.prefetch = &prefetchScheduler{
		enabled:        cfg.Prefetch.Enabled,
		maxBatchBytes:  cfg.MaxPrefetchBytes(),
		requestTimeout: cfg.Prefetch.RequestTimeout,
		maxConcurrent:  cfg.Prefetch.MaxConcurrent,
		logger:         c.logger.WithField("component", "prefetch"),
	}

	c.optimizer = &optimizationController{
		capabilities:    deps.Capabilities,
		degradedHitRate: cfg.Optimization.DegradedHitRate,
		logger:          c.logger.WithField("component", "optimizer"),
	}

	if c.durable != nil {
		c.writeBehind = make(chan writeBehindOp, 256)
		c.warmStart()
		c.wg.Add(1)
		go c.writeBehindLoop()
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	if c.optimizeActive {
		c.wg.Add(1)
		go c.optimizeLoop()
	}

	return c, nil
}

// Get returns the cached asset, or nil and false on a miss. Expired
// entries inside the stale window are served with Stale set while a
// deduplicated background refresh runs; expired entries beyond it are
// evicted and count as misses. Corrupt payloads are evicted silently.
func (c *AssetCache) Get(ctx context.Context, key string, gctx *types.GetContext) (*types.LoadResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil, false
	}

	e, slot, ok := c.store.lookup(key)
	if !ok {
		c.recordMiss(c.primary)
		return nil, false
	}

	now := time.Now()

	if e.corrupt() {
		c.logger.Warn("corrupt payload evicted", map[string]interface{}{"key": key})
		c.eviction.evict(slot, types.ReasonManualEviction)
		c.recordMiss(e.strategy)
		return nil, false
	}

	if e.expired(now) {
		// Freshness miss, whether the entry can still be served stale or
		// is about to be evicted.
		e.missCount++
		if !e.servableStale(now) {
			c.eviction.evict(slot, types.ReasonTTLExpired)
			c.recordMiss(e.strategy)
			return nil, false
		}
		// Serve stale and refresh in the background without evicting.
		result := c.loadResult(e, now, types.SourceStale, true)
		c.recordHit(e, now)
		c.triggerRefresh(key)
		return result, true
	}

	result := c.loadResult(e, now, types.SourceMemory, false)
	c.recordHit(e, now)
	return result, true
}

// Set stores the payload under key, evicting as needed. It returns false
// only when space cannot be freed even after eviction, or the payload is
// empty. An existing entry under the same key is replaced in place.
func (c *AssetCache) Set(ctx context.Context, key string, payload []byte, opts *types.SetOptions) bool {
	if len(payload) == 0 {
		c.logger.Warn("rejecting empty payload", map[string]interface{}{"key": key})
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return false
	}

	strategy := c.primary
	priority := types.PriorityMedium
	staleTolerance := c.staleWindow
	if opts != nil {
		if opts.Strategy != "" {
			parsed, err := types.ParseStrategy(string(opts.Strategy))
			if err != nil {
				c.logger.Warn("unknown strategy on set, using primary", map[string]interface{}{
					"key":      key,
					"strategy": string(opts.Strategy),
				})
			} else {
				strategy = parsed
			}
		}
		if opts.UsePriority {
			priority = opts.Priority
		}
		if opts.StaleTolerance > 0 {
			staleTolerance = opts.StaleTolerance
		}
	}

	size := int64(len(payload))
	now := time.Now()

	// Replace-in-place: detach the old entry so its bytes count as
	// reclaimable, without counting as an eviction. A rejected write must
	// not destroy the resident entry, so it goes back on failure.
	old := c.store.removeKey(key)
	if !c.store.fits(size) && !c.eviction.makeSpace(size, now) {
		if old != nil {
			c.store.restore(old)
		}
		c.logger.Warn("write rejected, capacity exceeded", map[string]interface{}{
			"key":  key,
			"size": size,
		})
		return false
	}
	c.analytics.dropAsset(key)

	owned := make([]byte, len(payload))
	copy(owned, payload)

	e := newEntry(key, owned, now)
	e.strategy = strategy
	e.priority = priority
	e.ttl = c.defaultTTL
	e.staleTolerance = staleTolerance
	c.store.insert(e)

	c.analytics.recordPut(key, size)
	c.flushUsage(strategy)
	c.enqueueWriteBehind(key, owned)
	return true
}

// Has reports whether key is present and servable. Entries expired beyond
// their stale window are evicted as a side effect and counted absent.
func (c *AssetCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return false
	}

	e, slot, ok := c.store.lookup(key)
	if !ok {
		return false
	}

	now := time.Now()
	if e.corrupt() {
		c.eviction.evict(slot, types.ReasonManualEviction)
		return false
	}
	if e.expired(now) && !e.servableStale(now) {
		c.eviction.evict(slot, types.ReasonTTLExpired)
		return false
	}
	return true
}

// Delete removes key explicitly. Protection does not apply to explicit
// removal.
func (c *AssetCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return false
	}

	e := c.eviction.evictKey(key, types.ReasonManualEviction)
	if e == nil {
		return false
	}
	c.enqueueWriteBehind(key, nil)
	return true
}

// Clear removes every entry matching filter, or everything when filter is
// nil, and returns the removed count. A full clear also resets analytics.
func (c *AssetCache) Clear(filter func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return 0
	}

	var victims []string
	c.store.each(func(_ int, e *entry) bool {
		if filter == nil || filter(e.key) {
			victims = append(victims, e.key)
		}
		return true
	})

	for _, key := range victims {
		c.eviction.evictKey(key, types.ReasonManualEviction)
		c.enqueueWriteBehind(key, nil)
	}

	if filter == nil {
		c.analytics.reset()
	}
	return len(victims)
}

// Prefetch speculatively loads the requested assets in rank order. See
// prefetchScheduler for admission rules.
func (c *AssetCache) Prefetch(ctx context.Context, requests []types.PrefetchRequest) types.PrefetchResult {
	return c.prefetch.run(ctx, c, requests)
}

// Optimize runs one optimization cycle for the given trigger and returns
// the applied plan. Internal failures are absorbed: the cycle is skipped
// and the error describes why, but cache state is never left partial.
func (c *AssetCache) Optimize(trigger types.OptimizationTrigger) (types.OptimizationPlan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return types.OptimizationPlan{}, errors.New(errors.ErrCodeStoreClosed, "cache disposed")
	}
	return c.optimizer.run(c, trigger)
}

// Stats snapshots the public statistics surface. Repeated calls without
// intervening operations return identical values.
func (c *AssetCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.analytics.snapshot(c.store.suitability)
	return types.CacheStats{
		TotalEntries:        c.store.count,
		TotalSize:           c.store.totalSize,
		Capacity:            c.store.maxBytes,
		Utilization:         c.store.utilization(),
		HitRate:             snap.HitRate,
		NetworkSavings:      snap.NetworkSavings,
		PartitionStats:      c.store.partitionStats(),
		TopAssets:           snap.TopAssets,
		StrategyPerformance: snap.Strategies,
	}
}

// Dispose cancels all background work, waits for it to finish, and leaves
// the cache empty. No background task fires after Dispose returns. The
// injected collaborators are not closed; the caller owns them.
func (c *AssetCache) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.each(func(slot int, _ *entry) bool {
		c.store.remove(slot)
		return true
	})
	c.analytics.reset()
}

// loadResult builds a caller-owned copy of the entry.
func (c *AssetCache) loadResult(e *entry, now time.Time, source types.LoadSource, stale bool) *types.LoadResult {
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	return &types.LoadResult{
		Key:      e.key,
		Payload:  payload,
		Size:     e.size,
		Source:   source,
		Stale:    stale,
		HitCount: e.hitCount + 1,
		Age:      e.age(now),
	}
}

func (c *AssetCache) recordHit(e *entry, now time.Time) {
	e.recordAccess(now)
	p := c.store.partitions[e.strategy]
	p.hits++
	c.analytics.recordHit(e.strategy, e.key, e.size, e.hitCount)
	c.metrics.RecordHit(e.strategy, e.size)
}

func (c *AssetCache) recordMiss(strategy types.EvictionStrategy) {
	c.store.partitions[strategy].misses++
	c.analytics.recordMiss(strategy)
	c.metrics.RecordMiss(strategy)
}

func (c *AssetCache) flushUsage(strategy types.EvictionStrategy) {
	p := c.store.partitions[strategy]
	c.metrics.UpdateUsage(strategy, p.totalSize, len(p.slots))
}

// triggerRefresh starts a background re-fetch for a stale key. Concurrent
// stale reads of the same key join the in-flight refresh instead of
// fetching twice.
func (c *AssetCache) triggerRefresh(key string) {
	if c.fetcher == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _, _ = c.refreshGroup.Do(key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
			defer cancel()

			payload, err := c.fetcher.Fetch(ctx, key)
			if err != nil {
				c.logger.Warn("stale refresh failed", map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				})
				return nil, err
			}
			c.applyRefresh(key, payload)
			return nil, nil
		})
	}()
}

// applyRefresh installs a re-fetched payload, restarting the TTL clock
// but keeping the entry's access history and protection.
func (c *AssetCache) applyRefresh(key string, payload []byte) {
	if len(payload) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	old := c.store.removeKey(key)
	if old == nil {
		// Entry left the cache while the fetch was in flight.
		return
	}

	now := time.Now()
	size := int64(len(payload))
	if !c.store.fits(size) && !c.eviction.makeSpace(size, now) {
		// Keep serving stale rather than losing the entry outright.
		c.store.restore(old)
		c.logger.Warn("refresh dropped, capacity exceeded", map[string]interface{}{"key": key})
		return
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)
	old.refresh(owned, now)
	c.store.insert(old)
	c.flushUsage(old.strategy)
	c.enqueueWriteBehind(key, owned)
}

func (c *AssetCache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

// sweepExpired evicts entries past their stale window and refreshes the
// per-partition usage gauges.
func (c *AssetCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	now := time.Now()
	var expired []int
	c.store.each(func(slot int, e *entry) bool {
		if e.expired(now) && !e.servableStale(now) {
			expired = append(expired, slot)
		}
		return true
	})
	for _, slot := range expired {
		c.eviction.evict(slot, types.ReasonTTLExpired)
	}

	for _, strategy := range types.Strategies() {
		c.flushUsage(strategy)
	}
}

func (c *AssetCache) optimizeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.optimizeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runScheduledCycle()
		}
	}
}

// runScheduledCycle fires the scheduled trigger and escalates to a
// pressure or degradation cycle when the analytics warrant one.
func (c *AssetCache) runScheduledCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	trigger := types.TriggerScheduled
	if c.store.utilization() > c.eviction.pressureThreshold {
		trigger = types.TriggerMemoryPressure
	} else if c.analytics.hasSamples() && c.analytics.hitRate() < c.optimizer.degradedHitRate {
		trigger = types.TriggerPerformanceDegradation
	}

	if _, err := c.optimizer.run(c, trigger); err != nil {
		c.logger.Warn("optimization cycle skipped", map[string]interface{}{
			"trigger": string(trigger),
			"error":   err.Error(),
		})
	}
}

func (c *AssetCache) enqueueWriteBehind(key string, payload []byte) {
	if c.writeBehind == nil {
		return
	}

	select {
	case c.writeBehind <- writeBehindOp{key: key, payload: payload}:
	default:
		// The durable tier is best effort; drop rather than block.
		c.logger.Debug("write-behind queue full, dropping", map[string]interface{}{"key": key})
	}
}

func (c *AssetCache) writeBehindLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case op := <-c.writeBehind:
					c.applyWriteBehind(op)
				default:
					return
				}
			}
		case op := <-c.writeBehind:
			c.applyWriteBehind(op)
		}
	}
}

func (c *AssetCache) applyWriteBehind(op writeBehindOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if op.payload == nil {
		err = c.durable.Delete(ctx, op.key)
	} else {
		err = c.durable.Store(ctx, op.key, op.payload)
	}
	if err != nil {
		c.logger.Warn("write-behind failed", map[string]interface{}{
			"key":   op.key,
			"error": err.Error(),
		})
	}
}

// warmStart best-effort loads durable entries until either cap would be
// exceeded. Errors are logged and skipped; a cold start is always safe.
func (c *AssetCache) warmStart() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys, err := c.durable.Keys(ctx)
	if err != nil {
		c.logger.Warn("warm start skipped", map[string]interface{}{"error": err.Error()})
		return
	}

	loaded := 0
	now := time.Now()
	for _, key := range keys {
		payload, err := c.durable.Load(ctx, key)
		if err != nil || len(payload) == 0 {
			continue
		}
		if !c.store.fits(int64(len(payload))) {
			break
		}
		e := newEntry(key, payload, now)
		e.strategy = c.primary
		e.priority = types.PriorityMedium
		e.ttl = c.defaultTTL
		e.staleTolerance = c.staleWindow
		c.store.insert(e)
		loaded++
	}

	if loaded > 0 {
		c.logger.Info("warm start loaded entries", map[string]interface{}{"count": loaded})
	}
}
