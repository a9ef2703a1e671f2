package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bassnotion/assetcache/pkg/types"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// prefetchScheduler drives speculative loads through the asset fetcher.
// Admission is conservative: prefetch must never be the operation that
// pushes the store into emergency eviction.
type prefetchScheduler struct {
	enabled        bool
	maxBatchBytes  int64
	requestTimeout time.Duration
	maxConcurrent  int

	logger *utils.StructuredLogger
}

// prefetchOutcome holds one request's fate at its rank position until the
// batch commits it.
type prefetchOutcome struct {
	req     types.PrefetchRequest
	payload []byte
	err     error
	skipped bool
}

// run processes a batch in descending priority*confidence order. Fetches
// run concurrently up to maxConcurrent, but outcomes commit strictly in
// rank order with the bandwidth budget re-checked at commit time, so the
// batch never stores more than maxBatchBytes no matter which fetch lands
// first. A request is skipped when its asset is already cached, the batch
// budget is spent, or remaining capacity has fallen below half the budget;
// one failure never aborts the batch.
func (p *prefetchScheduler) run(ctx context.Context, c *AssetCache, requests []types.PrefetchRequest) types.PrefetchResult {
	result := types.PrefetchResult{}
	if len(requests) == 0 {
		return result
	}

	if !p.enabled || c.fetcher == nil {
		for _, req := range requests {
			result.Skipped = append(result.Skipped, req.AssetKey)
		}
		return result
	}

	ranked := make([]types.PrefetchRequest, len(requests))
	copy(ranked, requests)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rank() > ranked[j].Rank()
	})

	concurrency := p.maxConcurrent
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		sem       = make(chan struct{}, concurrency)
		outcomes  = make([]*prefetchOutcome, len(ranked))
		committed int
	)

	// commitReady files outcomes in rank order, stopping at the first
	// request still outstanding. Caller holds mu.
	commitReady := func() {
		for committed < len(outcomes) && outcomes[committed] != nil {
			p.commit(ctx, c, outcomes[committed], &result)
			committed++
		}
	}

	for i, req := range ranked {
		i, req := i, req

		// A semaphore slot must free before the next request is admitted,
		// so a serialized batch decides each admission against the full
		// bandwidth of every earlier fetch.
		sem <- struct{}{}

		mu.Lock()
		commitReady()
		spent := result.TotalBandwidth
		mu.Unlock()

		if verdict := p.admit(c, req, spent); verdict != "" {
			mu.Lock()
			outcomes[i] = &prefetchOutcome{req: req, skipped: true}
			commitReady()
			mu.Unlock()
			<-sem
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := p.fetch(ctx, c, req)
			mu.Lock()
			outcomes[i] = &prefetchOutcome{req: req, payload: payload, err: err}
			commitReady()
			mu.Unlock()
			<-sem
		}()
	}

	wg.Wait()

	mu.Lock()
	commitReady()
	mu.Unlock()
	return result
}

// admit returns "" to proceed, or a skip verdict. spent is the bandwidth
// the batch has committed so far.
func (p *prefetchScheduler) admit(c *AssetCache, req types.PrefetchRequest, spent int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return "disposed"
	}
	if _, _, ok := c.store.lookup(req.AssetKey); ok {
		return "cached"
	}
	if spent >= p.maxBatchBytes {
		return "budget"
	}
	if c.store.remainingBytes() < p.maxBatchBytes/2 {
		return "headroom"
	}
	return ""
}

// fetch loads one asset with its own timeout. Storing happens at commit,
// never here.
func (p *prefetchScheduler) fetch(ctx context.Context, c *AssetCache, req types.PrefetchRequest) ([]byte, error) {
	timeout := p.requestTimeout
	if req.MaxDelay > 0 && req.MaxDelay < timeout {
		timeout = req.MaxDelay
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.fetcher.Fetch(fetchCtx, req.AssetKey)
}

// commit files one outcome into the result. The budget is enforced here:
// a payload fetched concurrently that would land after the budget is spent
// is discarded and its request counted skipped, and only stored bytes
// count toward TotalBandwidth. Called with the batch lock held; the cache
// lock is only ever acquired inside, never the other way around.
func (p *prefetchScheduler) commit(ctx context.Context, c *AssetCache, o *prefetchOutcome, result *types.PrefetchResult) {
	key := o.req.AssetKey

	if o.skipped {
		result.Skipped = append(result.Skipped, key)
		c.metrics.RecordPrefetch("skipped", 0)
		return
	}

	if o.err != nil {
		p.logger.Debug("prefetch failed", map[string]interface{}{
			"key":   key,
			"error": o.err.Error(),
		})
		result.Failed = append(result.Failed, key)
		c.metrics.RecordPrefetch("failed", 0)
		return
	}

	if result.TotalBandwidth >= p.maxBatchBytes {
		o.payload = nil
		result.Skipped = append(result.Skipped, key)
		c.metrics.RecordPrefetch("skipped", 0)
		return
	}

	priority := priorityFromScore(o.req.Priority)
	if !c.Set(ctx, key, o.payload, &types.SetOptions{Priority: priority, UsePriority: true}) {
		result.Failed = append(result.Failed, key)
		c.metrics.RecordPrefetch("failed", 0)
		return
	}

	size := int64(len(o.payload))
	result.Successful = append(result.Successful, key)
	result.TotalBandwidth += size
	c.metrics.RecordPrefetch("successful", size)
}

// priorityFromScore maps the request's continuous priority onto the entry
// priority levels.
func priorityFromScore(score float64) types.Priority {
	switch {
	case score >= 0.7:
		return types.PriorityHigh
	case score >= 0.3:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}
