package mvcc

import (
	"testing"

	"github.com/frankensqlite/frankensqlite/storage"
	"github.com/frankensqlite/frankensqlite/vfs"
	"github.com/frankensqlite/frankensqlite/wal"
)

func newTestEngine(t *testing.T, serializable bool) (*Engine, storage.PageNumber) {
	t.Helper()
	mem := vfs.NewMemory()
	pager, err := storage.Open(mem, "test.db", 4096, 64, false)
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	w, err := wal.Open(mem, "test.db", 4096)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	page, err := pager.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	return New(pager, w, serializable), page
}

func TestCommitPublishesVisibleVersion(t *testing.T) {
	eng, page := newTestEngine(t, false)

	txn := eng.Begin()
	if err := txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'a')}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reader := eng.Begin()
	pg, err := reader.ReadPage(page)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pg.Data[0] != 'a' {
		t.Fatalf("expected committed data visible, got %v", pg.Data[0])
	}
}

func TestFirstCommitterWins(t *testing.T) {
	eng, page := newTestEngine(t, false)

	t1 := eng.Begin()
	t2 := eng.Begin()

	if err := t1.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'x')}); err != nil {
		t.Fatal(err)
	}
	if err := t2.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'y')}); err != nil {
		t.Fatal(err)
	}

	if err := t1.Commit(); err != nil {
		t.Fatalf("t1 commit: %v", err)
	}
	if err := t2.Commit(); err != ErrFirstCommitterWins {
		t.Fatalf("expected ErrFirstCommitterWins, got %v", err)
	}
}

func TestSsiWriteSkewDetected(t *testing.T) {
	eng, _ := newTestEngine(t, true)
	px, err := eng.pager.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	py, err := eng.pager.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}

	t1 := eng.Begin()
	t2 := eng.Begin()

	if _, err := t1.ReadPage(px); err != nil {
		t.Fatal(err)
	}
	if _, err := t1.ReadPage(py); err != nil {
		t.Fatal(err)
	}
	if _, err := t2.ReadPage(px); err != nil {
		t.Fatal(err)
	}
	if _, err := t2.ReadPage(py); err != nil {
		t.Fatal(err)
	}

	if err := t1.WritePage(&storage.Page{No: px, Data: bytesOf(4096, '1')}); err != nil {
		t.Fatal(err)
	}
	if err := t2.WritePage(&storage.Page{No: py, Data: bytesOf(4096, '2')}); err != nil {
		t.Fatal(err)
	}

	if err := t1.Commit(); err != nil {
		t.Fatalf("t1 commit: %v", err)
	}
	err = t2.Commit()
	if err != ErrSsiWriteSkew {
		t.Fatalf("expected ErrSsiWriteSkew, got %v", err)
	}
}

func TestSsiOffAllowsWriteSkew(t *testing.T) {
	eng, _ := newTestEngine(t, false)
	px, _ := eng.pager.AllocatePage()
	py, _ := eng.pager.AllocatePage()

	t1 := eng.Begin()
	t2 := eng.Begin()
	t1.ReadPage(px)
	t1.ReadPage(py)
	t2.ReadPage(px)
	t2.ReadPage(py)
	t1.WritePage(&storage.Page{No: px, Data: bytesOf(4096, '1')})
	t2.WritePage(&storage.Page{No: py, Data: bytesOf(4096, '2')})

	if err := t1.Commit(); err != nil {
		t.Fatalf("t1 commit: %v", err)
	}
	if err := t2.Commit(); err != nil {
		t.Fatalf("expected both to commit with serializable=off, t2 got: %v", err)
	}
}

func bytesOf(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
