package mvcc

import (
	"errors"
	"fmt"

	"github.com/frankensqlite/frankensqlite/storage"
)

// ErrNoSuchSavepoint is returned by RollbackTo/ReleaseSavepoint when name
// does not name an open savepoint on this transaction.
var ErrNoSuchSavepoint = errors.New("mvcc: no such savepoint")

// savepointMark is the write-set and intent-log position Savepoint(name)
// captures, grounded on the teacher's pager.Savepoint (savepoint.go) but
// scoped to a transaction's in-memory write set rather than a page cache,
// since our page locks are only ever held transiently during Commit (see
// pagelock.go) and need no unwinding on rollback.
type savepointMark struct {
	name      string
	writeSet  map[storage.PageNumber][]byte
	intentLen int
	allocLen  int
}

// Savepoint records the transaction's current write-set contents and intent
// log position under name (spec §4.5.8). Names must be unique among this
// transaction's currently-open savepoints.
func (t *Transaction) Savepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrTxnNotActive
	}
	if name == "" {
		return errors.New("mvcc: savepoint name cannot be empty")
	}
	for _, sp := range t.savepoints {
		if sp.name == name {
			return fmt.Errorf("mvcc: savepoint %q already exists", name)
		}
	}

	snapshot := make(map[storage.PageNumber][]byte, len(t.writeSet))
	for p, data := range t.writeSet {
		cp := make([]byte, len(data))
		copy(cp, data)
		snapshot[p] = cp
	}

	t.savepoints = append(t.savepoints, &savepointMark{
		name:      name,
		writeSet:  snapshot,
		intentLen: len(t.intentLog),
		allocLen:  len(t.allocated),
	})
	return nil
}

// RollbackTo discards every write-set change and intent-log entry made
// since name was established, but keeps name itself open so it can be
// rolled back to again (spec §4.5.8).
func (t *Transaction) RollbackTo(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrTxnNotActive
	}
	idx := t.findSavepointLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNoSuchSavepoint, name)
	}
	mark := t.savepoints[idx]

	restored := make(map[storage.PageNumber][]byte, len(mark.writeSet))
	for p, data := range mark.writeSet {
		cp := make([]byte, len(data))
		copy(cp, data)
		restored[p] = cp
	}
	t.writeSet = restored
	t.intentLog = t.intentLog[:mark.intentLen]
	t.allocated = t.allocated[:mark.allocLen]
	t.savepoints = t.savepoints[:idx+1]
	return nil
}

// ReleaseSavepoint pops name and every savepoint opened after it, without
// changing the write set or intent log (spec §4.5.8).
func (t *Transaction) ReleaseSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrTxnNotActive
	}
	idx := t.findSavepointLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNoSuchSavepoint, name)
	}
	t.savepoints = t.savepoints[:idx]
	return nil
}

func (t *Transaction) findSavepointLocked(name string) int {
	for i, sp := range t.savepoints {
		if sp.name == name {
			return i
		}
	}
	return -1
}
