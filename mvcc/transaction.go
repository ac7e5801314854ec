package mvcc

import (
	"fmt"
	"sync"

	"github.com/frankensqlite/frankensqlite/storage"
)

// Transaction is one MVCC transaction's view of the database: a pinned
// snapshot, a page-local write set staged until commit, and the read set
// SSI validation needs to detect rw-antidependencies. Implements
// btree.PageSource so a btree.Table/Index can operate directly against a
// transaction without this package importing btree.
type Transaction struct {
	mu sync.Mutex

	id       uint64
	engine   *Engine
	snapshot Snapshot
	state    TxnState

	writeSet  map[storage.PageNumber][]byte
	readSet   map[storage.PageNumber]uint64 // page -> txnID of the version we read
	allocated []storage.PageNumber
	dbSize    uint32

	intentLog  []IntentOp
	savepoints []*savepointMark

	// readBase holds the bytes first read for each page this transaction has
	// both read and written, the reference point the merge ladder's
	// structured-patch and sparse-XOR strategies diff against.
	readBase map[storage.PageNumber][]byte
}

// ID returns the transaction's identifier, assigned at Begin in allocation
// order (spec §4.4 "monotonic counter").
func (t *Transaction) ID() uint64 { return t.id }

// State reports the transaction's current lifecycle state.
func (t *Transaction) State() TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReadPage resolves a page through the four-step order spec §4.4 mandates:
// this transaction's own write set, then the version chain, then the WAL,
// then the file-resident baseline.
func (t *Transaction) ReadPage(no storage.PageNumber) (*storage.Page, error) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return nil, ErrTxnNotActive
	}
	if data, ok := t.writeSet[no]; ok {
		t.mu.Unlock()
		out := make([]byte, len(data))
		copy(out, data)
		return &storage.Page{No: no, Data: out}, nil
	}
	t.mu.Unlock()

	if data, txnID, ok := t.engine.versionVisible(no, t.snapshot); ok {
		out := make([]byte, len(data))
		copy(out, data)
		t.recordRead(no, txnID, out)
		return &storage.Page{No: no, Data: out}, nil
	}

	if t.engine.log != nil {
		if frame, ok := t.engine.log.Lookup(uint32(no), func(txnID uint64) bool { return t.snapshot.visible(txnID) }); ok {
			out := make([]byte, len(frame.Data))
			copy(out, frame.Data)
			t.recordRead(no, frame.TxnID, out)
			return &storage.Page{No: no, Data: out}, nil
		}
	}

	pg, err := t.engine.pager.ReadBaseline(no)
	if err != nil {
		return nil, err
	}
	t.recordRead(no, 0, pg.Data)
	return pg, nil
}

func (t *Transaction) recordRead(no storage.PageNumber, txnID uint64, data []byte) {
	t.mu.Lock()
	t.readSet[no] = txnID
	if _, ok := t.readBase[no]; !ok {
		base := make([]byte, len(data))
		copy(base, data)
		t.readBase[no] = base
	}
	t.mu.Unlock()
	t.engine.addSiRead(no, t.id)
}

// WritePage stages pg into this transaction's private write set; nothing is
// visible to other transactions until Commit succeeds. Staging never
// contends with another transaction writing the same page — both may
// buffer speculative writes concurrently, since the page lock this package
// provides (pagelock.go) guards the commit-time version-chain splice, not
// write-set membership; see DESIGN.md's Open Questions for why that
// splice-scoped lock is not taken here instead.
func (t *Transaction) WritePage(pg *storage.Page) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrTxnNotActive
	}
	data := make([]byte, len(pg.Data))
	copy(data, pg.Data)
	t.writeSet[pg.No] = data
	return nil
}

// AllocatePage extends the database (delegating to the pager for the
// physical extension) and stages the new, zeroed page in the write set.
func (t *Transaction) AllocatePage() (storage.PageNumber, error) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return 0, ErrTxnNotActive
	}
	t.mu.Unlock()

	no, err := t.engine.pager.AllocatePage()
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.allocated = append(t.allocated, no)
	t.writeSet[no] = make([]byte, t.engine.pager.PageSize())
	t.mu.Unlock()
	return no, nil
}

// dirtyPages returns the write set's page numbers in a stable order so WAL
// frame append order is deterministic.
func (t *Transaction) dirtyPages() []storage.PageNumber {
	pages := make([]storage.PageNumber, 0, len(t.writeSet))
	for p := range t.writeSet {
		pages = append(pages, p)
	}
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j-1] > pages[j]; j-- {
			pages[j-1], pages[j] = pages[j], pages[j-1]
		}
	}
	return pages
}

// Commit validates then publishes this transaction's write set. Validation
// is First-Committer-Wins always, plus the conservative SSI
// rw-antidependency rule when the engine runs with fsqlite.serializable=on
// (spec §4.4, §8 scenario 4).
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return ErrTxnNotActive
	}
	t.state = StateValidating
	writeSet := make(map[storage.PageNumber][]byte, len(t.writeSet))
	for p, d := range t.writeSet {
		writeSet[p] = d
	}
	readSet := make(map[storage.PageNumber]uint64, len(t.readSet))
	for p, v := range t.readSet {
		readSet[p] = v
	}
	t.mu.Unlock()

	for page := range writeSet {
		if err := t.engine.locks.TryAcquire(page, t.id); err != nil {
			t.fail()
			return fmt.Errorf("mvcc: txn %d: %w", t.id, err)
		}
	}
	defer t.engine.locks.ReleaseAll(t.id, pagesOf(writeSet))

	if t.engine.serializable {
		if err := t.checkSSI(writeSet, readSet); err != nil {
			t.fail()
			return err
		}
	}

	var conflicts []conflict
	for page := range writeSet {
		if committer, ok := t.engine.committedVersion(page); ok && !t.snapshot.visible(committer) {
			data, _, _ := t.engine.headVersion(page)
			theirs := make([]byte, len(data))
			copy(theirs, data)
			conflicts = append(conflicts, conflict{page: page, theirs: theirs})
		}
	}
	if len(conflicts) > 0 {
		if !t.engine.mergeEnabled {
			t.fail()
			return ErrFirstCommitterWins
		}
		if err := t.mergeLadder(conflicts); err != nil {
			t.fail()
			return err
		}
		t.mu.Lock()
		for p, d := range t.writeSet {
			writeSet[p] = d
		}
		t.mu.Unlock()
	}

	pages := t.dirtyPages()
	if t.engine.log != nil {
		for i, page := range pages {
			commit := i == len(pages)-1
			if _, err := t.engine.log.Append(uint32(page), t.id, writeSet[page], commit, t.engine.pager.TotalPages()); err != nil {
				t.fail()
				return fmt.Errorf("mvcc: wal append: %w", err)
			}
		}
	}

	for page, data := range writeSet {
		t.engine.publish(page, t.id, data)
	}

	t.mu.Lock()
	t.state = StateCommitted
	t.mu.Unlock()
	t.engine.finish(t)
	return nil
}

// checkSSI applies Cahill's conservative rule: abort if this transaction
// has both an incoming rw-antidependency (someone committed a new version
// of a page we read) and an outgoing one (some other transaction, active or
// already committed, has read a page we are about to overwrite).
func (t *Transaction) checkSSI(writeSet map[storage.PageNumber][]byte, readSet map[storage.PageNumber]uint64) error {
	incoming := false
	for page, seenTxnID := range readSet {
		if committer, ok := t.engine.committedVersion(page); ok && committer != seenTxnID {
			incoming = true
			break
		}
	}

	outgoing := false
	for page := range writeSet {
		if len(t.engine.readersOf(page, t.id)) > 0 {
			outgoing = true
			break
		}
	}

	if incoming && outgoing {
		return ErrSsiWriteSkew
	}
	return nil
}

// Abort discards this transaction's write set without publishing anything.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	if t.state != StateActive && t.state != StateValidating {
		t.mu.Unlock()
		return ErrTxnNotActive
	}
	t.state = StateAborted
	t.mu.Unlock()
	t.engine.finish(t)
	return nil
}

func (t *Transaction) fail() {
	t.mu.Lock()
	t.state = StateAborted
	t.mu.Unlock()
	t.engine.finish(t)
}

func pagesOf(m map[storage.PageNumber][]byte) []storage.PageNumber {
	out := make([]storage.PageNumber, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}
