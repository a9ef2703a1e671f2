package cache

import (
	"github.com/bassnotion/assetcache/pkg/types"
)

// partition groups the slots of one eviction strategy and carries its
// aggregate bookkeeping. Partitions are created once at construction for
// the fixed strategy set and never destroyed.
type partition struct {
	strategy types.EvictionStrategy

	slots map[int]struct{}

	totalSize     int64
	evictionCount uint64
	hits          uint64
	misses        uint64
}

func (p *partition) hitRate() float64 {
	total := p.hits + p.misses
	if total == 0 {
		return 0
	}
	return float64(p.hits) / float64(total)
}

// entryStore owns the canonical key to entry mapping, arena-style: a flat
// slot table indexed by integer id with a free list, an index from key to
// slot, and per-strategy partitions holding slot-id sets. A payload is
// owned by exactly one slot; freeing the slot releases it.
//
// The store does no locking. The owning cache serializes all access.
type entryStore struct {
	maxBytes   int64
	maxEntries int

	slots []*entry
	free  []int
	index map[string]int

	partitions map[types.EvictionStrategy]*partition

	totalSize int64
	count     int
	nextSeq   uint64
}

func newEntryStore(maxBytes int64, maxEntries int) *entryStore {
	s := &entryStore{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		index:      make(map[string]int),
		partitions: make(map[types.EvictionStrategy]*partition),
	}
	for _, strategy := range types.Strategies() {
		s.partitions[strategy] = &partition{
			strategy: strategy,
			slots:    make(map[int]struct{}),
		}
	}
	return s
}

// lookup returns the live entry for key, if any.
func (s *entryStore) lookup(key string) (*entry, int, bool) {
	slot, ok := s.index[key]
	if !ok {
		return nil, 0, false
	}
	return s.slots[slot], slot, true
}

// insert places the entry into a free slot and its strategy partition.
// The caller must have made space first; insert enforces nothing.
func (s *entryStore) insert(e *entry) int {
	s.nextSeq++
	e.insertionSeq = s.nextSeq

	var slot int
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[slot] = e
	} else {
		slot = len(s.slots)
		s.slots = append(s.slots, e)
	}

	s.index[e.key] = slot
	p := s.partitions[e.strategy]
	p.slots[slot] = struct{}{}
	p.totalSize += e.size
	s.totalSize += e.size
	s.count++
	return slot
}

// remove frees a slot, detaching the entry from the index and its
// partition atomically. The returned entry is already unreachable; the
// caller may inspect it but must not re-publish its payload.
func (s *entryStore) remove(slot int) *entry {
	e := s.slots[slot]
	if e == nil {
		return nil
	}

	p := s.partitions[e.strategy]
	delete(p.slots, slot)
	p.totalSize -= e.size
	delete(s.index, e.key)

	s.slots[slot] = nil
	s.free = append(s.free, slot)
	s.totalSize -= e.size
	s.count--
	return e
}

// restore re-inserts a detached entry, keeping its original insertion
// sequence. Used when a replacement write is rejected after the old entry
// was already detached.
func (s *entryStore) restore(e *entry) int {
	seq := e.insertionSeq
	slot := s.insert(e)
	e.insertionSeq = seq
	return slot
}

// removeKey frees the slot holding key, if present.
func (s *entryStore) removeKey(key string) *entry {
	slot, ok := s.index[key]
	if !ok {
		return nil
	}
	return s.remove(slot)
}

// fits reports whether an additional payload of the given size would keep
// the store inside both caps.
func (s *entryStore) fits(size int64) bool {
	return s.totalSize+size <= s.maxBytes && s.count+1 <= s.maxEntries
}

// utilization is the byte-capacity fraction in use.
func (s *entryStore) utilization() float64 {
	if s.maxBytes == 0 {
		return 0
	}
	return float64(s.totalSize) / float64(s.maxBytes)
}

func (s *entryStore) remainingBytes() int64 {
	return s.maxBytes - s.totalSize
}

// each calls fn for every live entry until fn returns false.
func (s *entryStore) each(fn func(slot int, e *entry) bool) {
	for slot, e := range s.slots {
		if e == nil {
			continue
		}
		if !fn(slot, e) {
			return
		}
	}
}

// suitability is the fraction of a partition's live entries that were
// re-accessed at least once since insertion. A partition whose contents
// keep getting hit is suited to its strategy.
func (s *entryStore) suitability(strategy types.EvictionStrategy) float64 {
	p := s.partitions[strategy]
	if len(p.slots) == 0 {
		return 0
	}
	reaccessed := 0
	for slot := range p.slots {
		if e := s.slots[slot]; e != nil && e.hitCount > 0 {
			reaccessed++
		}
	}
	return float64(reaccessed) / float64(len(p.slots))
}

// partitionStats snapshots the public view of every partition.
func (s *entryStore) partitionStats() map[types.EvictionStrategy]types.PartitionStats {
	stats := make(map[types.EvictionStrategy]types.PartitionStats, len(s.partitions))
	for strategy, p := range s.partitions {
		stats[strategy] = types.PartitionStats{
			Strategy:      strategy,
			EntryCount:    len(p.slots),
			TotalSize:     p.totalSize,
			EvictionCount: p.evictionCount,
			HitRate:       p.hitRate(),
		}
	}
	return stats
}
