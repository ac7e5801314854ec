// Package mvcc implements the MVCC engine (spec C5): transaction id
// allocation, page version chains, Serializable Snapshot Isolation
// validation, and the page-lock table transient writers use while
// publishing a version. Grounded on the teacher's concurrency package (see
// pagelock.go) for the lock-table shape, and on storage.Pager/wal.WAL for
// the underlying page and durability layers spec §4.4 describes this
// engine as sitting above.
package mvcc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/frankensqlite/frankensqlite/shm"
	"github.com/frankensqlite/frankensqlite/storage"
	"github.com/frankensqlite/frankensqlite/wal"
)

// TxnState is a transaction's position in the lifecycle spec §4.4 names:
// Active -> Validating -> Committed | Aborted.
type TxnState int

const (
	StateActive TxnState = iota
	StateValidating
	StateCommitted
	StateAborted
)

// Errors returned by transaction validation (spec §7 taxonomy).
var (
	ErrFirstCommitterWins = errors.New("mvcc: FirstCommitterWins: page modified by a transaction committed after this snapshot")
	ErrSsiWriteSkew       = errors.New("mvcc: SsiWriteSkew: conservative SSI rule detected a dangerous rw-antidependency cycle")
	ErrTxnNotActive       = errors.New("mvcc: transaction is not active")
)

// versionNode is one committed version of a page, linked newest-first.
type versionNode struct {
	txnID uint64
	data  []byte
	next  *versionNode
}

// Engine owns the global transaction counter, the per-page version chains,
// and SSI's bookkeeping of who read and wrote what.
type Engine struct {
	mu sync.Mutex

	pager *storage.Pager
	log   *wal.WAL
	locks *PageLockTable

	// coord owns the transaction-id counter, commit sequence, and gc
	// horizon spec §4.8 places in a cross-process shared-memory region;
	// this engine only ever has one process attached, so it drives coord
	// with plain atomics rather than an mmap-backed mapping.
	coord *shm.Coordinator

	// chains holds every committed version of a page, newest first. The
	// oldest entries are trimmed by GC once no active snapshot can see them
	// (gcHorizon below).
	chains map[storage.PageNumber]*versionNode

	// latestCommitter is chains' head txnID, kept separately for O(1) FCW
	// checks without walking the chain.
	latestCommitter map[storage.PageNumber]uint64

	active map[uint64]*Transaction // in-flight transactions, used to build each new snapshot's in-flight bitmap

	// siread records which transactions have read each page, independent of
	// whether those transactions have since committed — SSI's outgoing
	// rw-antidependency check needs this to outlive the reader's own
	// lifetime until the reader falls behind the GC horizon (spec §4.4
	// "SIREAD table (sharded)").
	siread map[storage.PageNumber]map[uint64]struct{}

	serializable bool // fsqlite.serializable pragma

	mergeEnabled bool       // optional merge ladder (spec §4.5.5), off by default
	rebase       RebaseFunc // deterministic-rebase hook, wired by the table/index layer
}

// New builds an MVCC engine over pager/log. serializable selects whether
// Commit enforces the SSI rw-antidependency check in addition to FCW (spec
// §3 pragma fsqlite.serializable).
func New(pager *storage.Pager, log *wal.WAL, serializable bool) *Engine {
	return &Engine{
		pager:           pager,
		log:             log,
		locks:           NewPageLockTable(),
		coord:           shm.New(),
		chains:          make(map[storage.PageNumber]*versionNode),
		latestCommitter: make(map[storage.PageNumber]uint64),
		active:          make(map[uint64]*Transaction),
		siread:          make(map[storage.PageNumber]map[uint64]struct{}),
		serializable:    serializable,
	}
}

// Snapshot is the read view a transaction is pinned to at Begin: every
// version committed at or before HighWaterMark is visible, except those
// from transactions still active when the snapshot was taken (spec §4.4
// "Snapshot = high_water_mark + in-flight bitmap").
type Snapshot struct {
	HighWaterMark uint64
	InFlight      map[uint64]bool
}

func (s Snapshot) visible(txnID uint64) bool {
	if txnID == 0 {
		return true // file-resident baseline
	}
	if txnID > s.HighWaterMark {
		return false
	}
	return !s.InFlight[txnID]
}

// Begin starts a new transaction pinned to the engine's current commit
// watermark.
func (e *Engine) Begin() *Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.coord.AllocTxnID()
	highWaterMark := id - 1

	inFlight := make(map[uint64]bool, len(e.active))
	for activeID := range e.active {
		inFlight[activeID] = true
	}

	txn := &Transaction{
		id:       id,
		engine:   e,
		snapshot: Snapshot{HighWaterMark: highWaterMark, InFlight: inFlight},
		writeSet: make(map[storage.PageNumber][]byte),
		readSet:  make(map[storage.PageNumber]uint64),
		readBase: make(map[storage.PageNumber][]byte),
		state:    StateActive,
	}
	e.active[id] = txn
	return txn
}

// gcHorizon is the oldest active txn id (or the next id to allocate when
// none is active). The newest version committed before it stays reachable;
// only versions older than that one are eligible for reclamation (spec §4.4
// "gc_horizon = min(active_txn_ids)").
func (e *Engine) gcHorizon() uint64 {
	e.mu.Lock()
	horizon := e.coord.NextTxnID()
	for id := range e.active {
		if id < horizon {
			horizon = id
		}
	}
	e.mu.Unlock()
	e.coord.SetGCHorizon(horizon)
	return horizon
}

// GC drops, for page, every version-chain entry older than the newest
// version committed before the current gc horizon (that version and the
// chain head are kept), and SIREAD readers older than the horizon.
func (e *Engine) GC(page storage.PageNumber) {
	horizon := e.gcHorizon()
	e.mu.Lock()
	n := e.chains[page]
	if n != nil {
		for cur := n; cur != nil; cur = cur.next {
			if cur.txnID < horizon {
				cur.next = nil
				break
			}
		}
	}
	e.mu.Unlock()
	e.trimSiRead(page, horizon)
}

func (e *Engine) finish(txn *Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, txn.id)
}

// addSiRead records that txnID has read page, for SSI's outgoing-edge
// check. Entries persist past the reader's own commit/abort; GC trims them
// once the reader falls behind the gc horizon.
func (e *Engine) addSiRead(page storage.PageNumber, txnID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.siread[page]
	if !ok {
		set = make(map[uint64]struct{})
		e.siread[page] = set
	}
	set[txnID] = struct{}{}
}

// readersOf returns every transaction id recorded as having read page,
// excluding exclude (the committing transaction itself).
func (e *Engine) readersOf(page storage.PageNumber, exclude uint64) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.siread[page]
	out := make([]uint64, 0, len(set))
	for id := range set {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) trimSiRead(page storage.PageNumber, horizon uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.siread[page]
	for id := range set {
		if id < horizon {
			delete(set, id)
		}
	}
}

func (e *Engine) committedVersion(page storage.PageNumber) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.latestCommitter[page]
	return v, ok
}

// headVersion returns the committed data and txnID at the head of page's
// version chain, used by the merge ladder to diff against the conflicting
// transaction's actual bytes.
func (e *Engine) headVersion(page storage.PageNumber) ([]byte, uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.chains[page]
	if n == nil {
		return nil, 0, false
	}
	return n.data, n.txnID, true
}

// EnableMergeLadder turns on the optional conflict-resolution ladder (spec
// §4.5.5) for FCW losses. Off by default: a plain WriteConflict abort.
func (e *Engine) EnableMergeLadder(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeEnabled = enabled
}

// SetRebaseFunc wires the deterministic-rebase strategy's semantic replay
// hook. mvcc has no notion of tables or B-tree cell layout, so this is
// supplied by whichever layer owns that (package btree, via fsqlite).
func (e *Engine) SetRebaseFunc(f RebaseFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebase = f
}

func (e *Engine) publish(page storage.PageNumber, txnID uint64, data []byte) {
	e.mu.Lock()
	n := &versionNode{txnID: txnID, data: data, next: e.chains[page]}
	e.chains[page] = n
	e.latestCommitter[page] = txnID
	e.mu.Unlock()
	e.coord.AdvanceCommitSeq()
}

func (e *Engine) versionVisible(page storage.PageNumber, snap Snapshot) ([]byte, uint64, bool) {
	e.mu.Lock()
	n := e.chains[page]
	e.mu.Unlock()
	for cur := n; cur != nil; cur = cur.next {
		if snap.visible(cur.txnID) {
			return cur.data, cur.txnID, true
		}
	}
	return nil, 0, false
}

func (e *Engine) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("mvcc.Engine{active=%d, nextTxnID=%d}", len(e.active), e.coord.NextTxnID())
}
