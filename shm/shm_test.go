package shm

import (
	"sync"
	"testing"
)

func TestAllocTxnIDSequential(t *testing.T) {
	c := New()
	first := c.AllocTxnID()
	second := c.AllocTxnID()
	if first != 1 || second != 2 {
		t.Fatalf("expected 1,2 got %d,%d", first, second)
	}
	if got := c.NextTxnID(); got != 3 {
		t.Fatalf("NextTxnID = %d, want 3", got)
	}
}

func TestAllocTxnIDConcurrentUnique(t *testing.T) {
	c := New()
	const n = 200
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- c.AllocTxnID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate txn id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestCommitSeqAdvances(t *testing.T) {
	c := New()
	if c.CommitSeq() != 0 {
		t.Fatalf("expected commit_seq to start at 0")
	}
	if got := c.AdvanceCommitSeq(); got != 1 {
		t.Fatalf("AdvanceCommitSeq = %d, want 1", got)
	}
	if got := c.AdvanceCommitSeq(); got != 2 {
		t.Fatalf("AdvanceCommitSeq = %d, want 2", got)
	}
}

func TestGCHorizonPublish(t *testing.T) {
	c := New()
	c.SetGCHorizon(7)
	if got := c.GCHorizon(); got != 7 {
		t.Fatalf("GCHorizon = %d, want 7", got)
	}
}

func TestSlotAcquireReleaseReclaim(t *testing.T) {
	c := New()
	if !c.AcquireSlot(1, 100, 1000) {
		t.Fatalf("expected slot acquisition to succeed")
	}
	// Re-acquiring a different txn while the table has free slots left
	// must not collide with the first holder.
	if !c.AcquireSlot(2, 100, 2000) {
		t.Fatalf("expected second slot acquisition to succeed")
	}
	c.ReleaseSlot(1)

	reclaimed := c.ReclaimStale(1500)
	if reclaimed != 0 {
		t.Fatalf("expected nothing stale below cutoff 1500 after releasing txn 1, got %d", reclaimed)
	}
	reclaimed = c.ReclaimStale(3000)
	if reclaimed != 1 {
		t.Fatalf("expected txn 2's slot (lease 2000) to be reclaimed, got %d", reclaimed)
	}
}

func TestSlotTableExhaustion(t *testing.T) {
	c := New()
	for i := 0; i < maxSlots; i++ {
		if !c.AcquireSlot(uint64(i+1), 1, 0) {
			t.Fatalf("slot %d: expected acquisition to succeed", i)
		}
	}
	if c.AcquireSlot(uint64(maxSlots+1), 1, 0) {
		t.Fatalf("expected acquisition to fail once the slot table is full")
	}
}
