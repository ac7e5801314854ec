package mvcc

import (
	"testing"

	"github.com/frankensqlite/frankensqlite/storage"
)

func TestSavepointRollbackRestoresWriteSet(t *testing.T) {
	eng, page := newTestEngine(t, false)
	txn := eng.Begin()

	if err := txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'a')}); err != nil {
		t.Fatal(err)
	}
	if err := txn.Savepoint("sp1"); err != nil {
		t.Fatalf("savepoint: %v", err)
	}
	if err := txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'b')}); err != nil {
		t.Fatal(err)
	}
	txn.LogIntent(IntentOp{Kind: IntentUpdate, Table: "t", Key: []byte("k"), Record: []byte("b")})

	if err := txn.RollbackTo("sp1"); err != nil {
		t.Fatalf("rollback to: %v", err)
	}
	if got := txn.writeSet[page][0]; got != 'a' {
		t.Fatalf("expected write-set restored to 'a', got %q", got)
	}
	if len(txn.IntentLog()) != 0 {
		t.Fatalf("expected intent log truncated, got %d entries", len(txn.IntentLog()))
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reader := eng.Begin()
	pg, err := reader.ReadPage(page)
	if err != nil {
		t.Fatal(err)
	}
	if pg.Data[0] != 'a' {
		t.Fatalf("expected committed value 'a', got %q", pg.Data[0])
	}
}

func TestSavepointReleaseKeepsChanges(t *testing.T) {
	eng, page := newTestEngine(t, false)
	txn := eng.Begin()

	if err := txn.Savepoint("sp1"); err != nil {
		t.Fatal(err)
	}
	if err := txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'z')}); err != nil {
		t.Fatal(err)
	}
	if err := txn.ReleaseSavepoint("sp1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(txn.savepoints) != 0 {
		t.Fatalf("expected no open savepoints after release, got %d", len(txn.savepoints))
	}
	if got := txn.writeSet[page][0]; got != 'z' {
		t.Fatalf("expected release to keep changes, got %q", got)
	}
}

func TestSavepointNestedRollback(t *testing.T) {
	eng, page := newTestEngine(t, false)
	txn := eng.Begin()

	txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, '1')})
	txn.Savepoint("outer")
	txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, '2')})
	txn.Savepoint("inner")
	txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, '3')})

	if err := txn.RollbackTo("outer"); err != nil {
		t.Fatalf("rollback to outer: %v", err)
	}
	if got := txn.writeSet[page][0]; got != '1' {
		t.Fatalf("expected '1' after rollback to outer, got %q", got)
	}
	if _, err := findSavepoint(txn, "inner"); err == nil {
		t.Fatal("expected inner savepoint to no longer exist")
	}
}

func findSavepoint(t *Transaction, name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.findSavepointLocked(name)
	if idx < 0 {
		return -1, ErrNoSuchSavepoint
	}
	return idx, nil
}

func TestSavepointDuplicateNameRejected(t *testing.T) {
	eng, _ := newTestEngine(t, false)
	txn := eng.Begin()
	if err := txn.Savepoint("dup"); err != nil {
		t.Fatal(err)
	}
	if err := txn.Savepoint("dup"); err == nil {
		t.Fatal("expected duplicate savepoint name to be rejected")
	}
}

func TestRollbackToUnknownSavepoint(t *testing.T) {
	eng, _ := newTestEngine(t, false)
	txn := eng.Begin()
	if err := txn.RollbackTo("nope"); err == nil {
		t.Fatal("expected error rolling back to unknown savepoint")
	}
}
