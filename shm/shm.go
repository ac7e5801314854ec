// Package shm implements the shared-memory coordinator (spec C8): the
// cross-process home for TxnId allocation, commit_seq, gc_horizon, and the
// transaction lease slots, laid out at the stable byte offsets spec §4.8
// specifies. The page-lock table is not here: it is mvcc.PageLockTable.
//
// Only the single-process case is implemented: Coordinator's fields are
// plain atomics in this process's address space, not an mmap-backed region
// shared across peers. A second process attaching to the same database
// would need the header serialized to an actual shared mapping, which is
// left as the multi-process extension point (see DESIGN.md) since
// FrankenSQLite's Non-goals already exclude distributed operation. The
// lease slots and ReclaimStale's stale-lease sweep work on this
// process-local table only. The byte-offset layout
// below is kept as documentation of where each field would live in that
// mapping, mirroring the teacher's concurrency.LockManager sharded-map
// design (mvcc/pagelock.go) generalized to the counters this coordinator
// owns.
package shm

import "sync/atomic"

// Byte offsets a real mmap-backed region would use (spec §4.8). Not used
// for addressing in this single-process implementation; recorded so the
// header shape is traceable back to the spec.
const (
	OffsetMagic     = 0
	OffsetVersion   = 8
	OffsetNextTxnID = 12
	OffsetCommitSeq = 20
	OffsetGCHorizon = 28
	OffsetChecksum  = 36
	OffsetSlots     = 64
)

const magic = "FSQLSHM\x00"
const version = 1

// Coordinator owns the counters and slot table spec §4.8 places in shared
// memory: the next transaction id to hand out, the commit sequence number,
// the GC horizon watermark, and a fixed table of per-transaction lease
// slots peers use to detect and reclaim crashed transactions.
type Coordinator struct {
	nextTxnID uint64
	commitSeq uint64
	gcHorizon uint64

	slots [maxSlots]TxnSlot
}

// maxSlots bounds the lease table the way the teacher's lock table is
// sharded to a fixed shard count rather than grown unbounded.
const maxSlots = 256

// TxnSlot is one cache-aligned lease record (spec §4.8 "TxnSlot array").
type TxnSlot struct {
	TxnID   uint64
	PID     int32
	LeaseNs int64
	State   SlotState
}

// SlotState mirrors a transaction's mvcc.TxnState for peers that only see
// the shared slot table, not the owning process's in-memory Transaction.
type SlotState int32

const (
	SlotFree SlotState = iota
	SlotActive
	SlotCommitted
	SlotAborted
)

// New returns a coordinator with its counters at their initial values.
// nextTxnID starts at 1, matching mvcc.Engine's own convention (txn id 0 is
// reserved for the file-resident baseline version).
func New() *Coordinator {
	return &Coordinator{nextTxnID: 1}
}

// AllocTxnID atomically hands out the next transaction id.
func (c *Coordinator) AllocTxnID() uint64 {
	return atomic.AddUint64(&c.nextTxnID, 1) - 1
}

// NextTxnID returns the id that would be allocated next, without consuming
// it — used to compute a snapshot's high-water mark and the GC horizon's
// upper bound.
func (c *Coordinator) NextTxnID() uint64 {
	return atomic.LoadUint64(&c.nextTxnID)
}

// CommitSeq returns the current commit sequence number.
func (c *Coordinator) CommitSeq() uint64 {
	return atomic.LoadUint64(&c.commitSeq)
}

// AdvanceCommitSeq atomically bumps commit_seq and returns the new value,
// called once per successful commit (spec §4.4's "publish" step).
func (c *Coordinator) AdvanceCommitSeq() uint64 {
	return atomic.AddUint64(&c.commitSeq, 1)
}

// GCHorizon returns the current gc_horizon watermark.
func (c *Coordinator) GCHorizon() uint64 {
	return atomic.LoadUint64(&c.gcHorizon)
}

// SetGCHorizon publishes a new gc_horizon, called whenever the minimum
// active txn id advances.
func (c *Coordinator) SetGCHorizon(h uint64) {
	atomic.StoreUint64(&c.gcHorizon, h)
}

// AcquireSlot claims a free lease slot for txnID/pid, or reports false if
// every slot is in use — the cross-process equivalent of mvcc.Engine.active
// gaining an entry.
func (c *Coordinator) AcquireSlot(txnID uint64, pid int32, leaseNs int64) bool {
	for i := range c.slots {
		s := &c.slots[i]
		if atomic.CompareAndSwapInt32((*int32)(&s.State), int32(SlotFree), int32(SlotActive)) {
			s.TxnID = txnID
			s.PID = pid
			s.LeaseNs = leaseNs
			return true
		}
	}
	return false
}

// ReleaseSlot frees txnID's lease slot, if it holds one.
func (c *Coordinator) ReleaseSlot(txnID uint64) {
	for i := range c.slots {
		s := &c.slots[i]
		if atomic.LoadUint64(&s.TxnID) == txnID && SlotState(atomic.LoadInt32((*int32)(&s.State))) != SlotFree {
			atomic.StoreInt32((*int32)(&s.State), int32(SlotFree))
			return
		}
	}
}

// ReclaimStale scans for slots whose lease is older than cutoffNs and
// frees them, the way a surviving peer reclaims a crashed process's
// transactions (spec §4.8 "a slot with a stale lease may be reclaimed").
func (c *Coordinator) ReclaimStale(cutoffNs int64) int {
	reclaimed := 0
	for i := range c.slots {
		s := &c.slots[i]
		if SlotState(atomic.LoadInt32((*int32)(&s.State))) == SlotActive && atomic.LoadInt64(&s.LeaseNs) < cutoffNs {
			atomic.StoreInt32((*int32)(&s.State), int32(SlotFree))
			reclaimed++
		}
	}
	return reclaimed
}
