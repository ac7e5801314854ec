// Package mvcc implements the multi-version concurrency control engine
// (spec C5): transaction lifecycle, version chains keyed by (page_no,
// txn_id), Serializable Snapshot Isolation validation, and the page-lock
// table short-lived writers take while publishing a version. Adapted from
// the teacher's concurrency.LockManager (a blocking, timeout-based
// per-record mutex map), generalized from record-level blocking locks to a
// sharded, non-blocking CAS table over page numbers — a caller that loses
// the race never waits for the holder to finish; it gets ErrPageBusy back
// immediately, same as the teacher's manager does on its own timeout path,
// just without the wait. See DESIGN.md's Open Questions for why this lock
// is taken only at Commit's splice step rather than eagerly at WritePage.
package mvcc

import (
	"errors"
	"sync"

	"github.com/frankensqlite/frankensqlite/storage"
)

// pageLockShardCount mirrors the teacher's per-key sharding factor, widened
// from per-record to the page-lock table's ~64-shard target (spec §4.4).
const pageLockShardCount = 64

// ErrPageBusy is returned by TryAcquire when another transaction already
// holds the page's splice lock.
var ErrPageBusy = errors.New("mvcc: page locked by another transaction")

// PageLockTable is a sharded, non-blocking lock table over page numbers.
// Unlike the teacher's LockManager, acquisition never waits: a caller that
// loses the race gets ErrPageBusy, and Transaction.Commit then aborts the
// transaction instead of waiting or retrying, since SSI
// correctness comes from the commit-time rw-antidependency check, not from
// holding this lock across a transaction's lifetime.
type PageLockTable struct {
	shards [pageLockShardCount]pageLockShard
}

type pageLockShard struct {
	mu     sync.Mutex
	holder map[storage.PageNumber]uint64 // page_no -> holding txn id
}

// NewPageLockTable builds an empty page-lock table.
func NewPageLockTable() *PageLockTable {
	t := &PageLockTable{}
	for i := range t.shards {
		t.shards[i].holder = make(map[storage.PageNumber]uint64)
	}
	return t
}

func (t *PageLockTable) shardFor(page storage.PageNumber) *pageLockShard {
	return &t.shards[uint64(page)%pageLockShardCount]
}

// TryAcquire attempts to take the splice lock for page on behalf of txnID.
// Re-entrant for the same (page, txnID) pair. Returns ErrPageBusy if a
// different transaction already holds it.
func (t *PageLockTable) TryAcquire(page storage.PageNumber, txnID uint64) error {
	s := t.shardFor(page)
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.holder[page]; ok && holder != txnID {
		return ErrPageBusy
	}
	s.holder[page] = txnID
	return nil
}

// Release drops txnID's hold on page, if it holds one.
func (t *PageLockTable) Release(page storage.PageNumber, txnID uint64) {
	s := t.shardFor(page)
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.holder[page]; ok && holder == txnID {
		delete(s.holder, page)
	}
}

// ReleaseAll drops every page lock held by txnID, called once a transaction
// reaches Committed or Aborted (spec §4.4 "locks are scoped to the splice,
// not the transaction").
func (t *PageLockTable) ReleaseAll(txnID uint64, pages []storage.PageNumber) {
	for _, p := range pages {
		t.Release(p, txnID)
	}
}
