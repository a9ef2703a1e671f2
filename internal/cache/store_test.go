package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/bassnotion/assetcache/pkg/types"
)

func makeStoreEntry(key string, size int, strategy types.EvictionStrategy) *entry {
	e := newEntry(key, make([]byte, size), time.Now())
	e.strategy = strategy
	e.ttl = time.Hour
	return e
}

func TestStoreInsertLookupRemove(t *testing.T) {
	s := newEntryStore(1000, 10)

	e := makeStoreEntry("a", 100, types.StrategyLRU)
	slot := s.insert(e)

	got, gotSlot, ok := s.lookup("a")
	if !ok || got != e || gotSlot != slot {
		t.Fatal("lookup after insert failed")
	}
	if s.totalSize != 100 || s.count != 1 {
		t.Errorf("totalSize=%d count=%d, want 100/1", s.totalSize, s.count)
	}
	if s.partitions[types.StrategyLRU].totalSize != 100 {
		t.Errorf("partition size = %d, want 100", s.partitions[types.StrategyLRU].totalSize)
	}

	removed := s.remove(slot)
	if removed != e {
		t.Fatal("remove returned wrong entry")
	}
	if _, _, ok := s.lookup("a"); ok {
		t.Error("entry still reachable after remove")
	}
	if s.totalSize != 0 || s.count != 0 {
		t.Errorf("totalSize=%d count=%d after remove, want 0/0", s.totalSize, s.count)
	}
	if len(s.partitions[types.StrategyLRU].slots) != 0 {
		t.Error("partition still holds the removed slot")
	}
}

func TestStoreSlotReuse(t *testing.T) {
	s := newEntryStore(10000, 10)

	slotA := s.insert(makeStoreEntry("a", 10, types.StrategyLRU))
	s.insert(makeStoreEntry("b", 10, types.StrategyLFU))
	s.remove(slotA)

	slotC := s.insert(makeStoreEntry("c", 10, types.StrategyLRU))
	if slotC != slotA {
		t.Errorf("expected freed slot %d to be reused, got %d", slotA, slotC)
	}
	if len(s.slots) != 2 {
		t.Errorf("arena grew to %d slots, want 2", len(s.slots))
	}
}

func TestStoreInsertionSequenceMonotonic(t *testing.T) {
	s := newEntryStore(10000, 10)

	var last uint64
	for i := 0; i < 5; i++ {
		e := makeStoreEntry(fmt.Sprintf("k%d", i), 10, types.StrategyFIFO)
		s.insert(e)
		if e.insertionSeq <= last {
			t.Fatalf("insertion sequence not monotonic: %d after %d", e.insertionSeq, last)
		}
		last = e.insertionSeq
	}
}

func TestStoreFits(t *testing.T) {
	s := newEntryStore(1000, 2)

	if !s.fits(1000) {
		t.Error("empty store should fit a payload at exactly max size")
	}
	s.insert(makeStoreEntry("a", 600, types.StrategyLRU))
	if s.fits(600) {
		t.Error("600+600 must not fit in 1000")
	}
	if !s.fits(400) {
		t.Error("600+400 should fit exactly")
	}

	s.insert(makeStoreEntry("b", 100, types.StrategyLRU))
	if s.fits(1) {
		t.Error("entry-count cap must reject a third entry")
	}
}

func TestStoreSuitability(t *testing.T) {
	s := newEntryStore(10000, 10)

	if s.suitability(types.StrategyLRU) != 0 {
		t.Error("empty partition suitability should be 0")
	}

	a := makeStoreEntry("a", 10, types.StrategyLRU)
	b := makeStoreEntry("b", 10, types.StrategyLRU)
	s.insert(a)
	s.insert(b)
	a.hitCount = 2

	if got := s.suitability(types.StrategyLRU); got != 0.5 {
		t.Errorf("suitability = %v, want 0.5", got)
	}
}

func TestStorePartitionAccounting(t *testing.T) {
	s := newEntryStore(10000, 10)

	s.insert(makeStoreEntry("a", 100, types.StrategyLRU))
	s.insert(makeStoreEntry("b", 200, types.StrategyLFU))
	s.insert(makeStoreEntry("c", 300, types.StrategyLFU))

	var sum int64
	for _, p := range s.partitions {
		sum += p.totalSize
	}
	if sum != s.totalSize {
		t.Errorf("partition sizes sum to %d, store says %d", sum, s.totalSize)
	}

	stats := s.partitionStats()
	if stats[types.StrategyLFU].EntryCount != 2 || stats[types.StrategyLFU].TotalSize != 500 {
		t.Errorf("lfu partition stats = %+v", stats[types.StrategyLFU])
	}
}
