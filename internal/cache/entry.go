package cache

import (
	"crypto/sha256"
	"time"

	"github.com/bassnotion/assetcache/pkg/types"
)

// protectionThreshold is the hit count at which an entry earns eviction
// protection.
const protectionThreshold = 3

// entry is one cached asset. Entries live in arena slots; the payload is
// owned by exactly one slot and is released when the slot is freed.
type entry struct {
	key     string
	payload []byte
	size    int64

	createdAt      time.Time
	lastAccessedAt time.Time
	insertionSeq   uint64

	strategy types.EvictionStrategy
	priority types.Priority

	hitCount uint32
	// missCount counts freshness misses: reads that found the entry past
	// its TTL, whether served stale or evicted.
	missCount uint32
	protected bool

	popularityScore float64

	ttl            time.Duration
	staleTolerance time.Duration

	checksum [sha256.Size]byte

	// Rolling access-pattern counters, optimization input only.
	accessHours [24]uint32
	accessDays  [7]uint32
}

func newEntry(key string, payload []byte, now time.Time) *entry {
	return &entry{
		key:            key,
		payload:        payload,
		size:           int64(len(payload)),
		createdAt:      now,
		lastAccessedAt: now,
		checksum:       sha256.Sum256(payload),
	}
}

func (e *entry) age(now time.Time) time.Duration {
	return now.Sub(e.createdAt)
}

// expired reports whether the entry is past its TTL. Age exactly equal to
// the TTL is still valid.
func (e *entry) expired(now time.Time) bool {
	return e.age(now) > e.ttl
}

// servableStale reports whether an expired entry is still inside its
// stale-serve window.
func (e *entry) servableStale(now time.Time) bool {
	return e.age(now) <= e.ttl+e.staleTolerance
}

// corrupt reports whether the payload fails its integrity check.
func (e *entry) corrupt() bool {
	if len(e.payload) == 0 {
		return true
	}
	return sha256.Sum256(e.payload) != e.checksum
}

// recordAccess updates access metadata after a hit. Protection is earned
// permanently once the hit count crosses the threshold.
func (e *entry) recordAccess(now time.Time) {
	idle := now.Sub(e.lastAccessedAt)
	e.lastAccessedAt = now
	e.hitCount++
	if e.hitCount >= protectionThreshold {
		e.protected = true
	}
	e.accessHours[now.Hour()]++
	e.accessDays[int(now.Weekday())]++
	e.popularityScore = popularity(e.hitCount, idle)
}

// refresh replaces the payload after a background re-fetch, restarting the
// TTL clock but keeping access history.
func (e *entry) refresh(payload []byte, now time.Time) {
	e.payload = payload
	e.size = int64(len(payload))
	e.checksum = sha256.Sum256(payload)
	e.createdAt = now
}

// popularity maps hit frequency and recency to a score in [0,1]. Frequency
// saturates around ten hits; recency halves roughly every hour idle.
func popularity(hits uint32, idle time.Duration) float64 {
	frequency := float64(hits) / (float64(hits) + 10)
	recency := 1.0 / (1.0 + idle.Hours())
	score := 0.7*frequency + 0.3*recency
	if score > 1 {
		score = 1
	}
	return score
}

// predictedReuse scores how likely the entry is to be accessed again soon,
// based on its hour-of-day and day-of-week counters. Zero history scores
// zero; an entry always hit at this hour on this weekday scores near one.
func (e *entry) predictedReuse(now time.Time) float64 {
	var total uint32
	for _, n := range e.accessHours {
		total += n
	}
	if total == 0 {
		return 0
	}

	hourShare := float64(e.accessHours[now.Hour()]) / float64(total)
	dayShare := float64(e.accessDays[int(now.Weekday())]) / float64(total)
	return 0.6*hourShare + 0.4*dayShare
}
