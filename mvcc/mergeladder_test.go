package mvcc

import (
	"testing"

	"github.com/frankensqlite/frankensqlite/storage"
)

func TestMergeLadderStructuredPatchDisjointRegions(t *testing.T) {
	eng, page := newTestEngine(t, false)
	eng.EnableMergeLadder(true)

	base := bytesOf(4096, 0)
	seed := eng.Begin()
	if err := seed.WritePage(&storage.Page{No: page, Data: base}); err != nil {
		t.Fatal(err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	t1 := eng.Begin()
	t2 := eng.Begin()
	if _, err := t1.ReadPage(page); err != nil {
		t.Fatal(err)
	}
	if _, err := t2.ReadPage(page); err != nil {
		t.Fatal(err)
	}

	mod1 := make([]byte, 4096)
	copy(mod1, base)
	mod1[10] = 'A'
	if err := t1.WritePage(&storage.Page{No: page, Data: mod1}); err != nil {
		t.Fatal(err)
	}

	mod2 := make([]byte, 4096)
	copy(mod2, base)
	mod2[2000] = 'B'
	if err := t2.WritePage(&storage.Page{No: page, Data: mod2}); err != nil {
		t.Fatal(err)
	}

	if err := t1.Commit(); err != nil {
		t.Fatalf("t1 commit: %v", err)
	}
	if err := t2.Commit(); err != nil {
		t.Fatalf("expected merge ladder to resolve disjoint-region conflict, got: %v", err)
	}

	reader := eng.Begin()
	pg, err := reader.ReadPage(page)
	if err != nil {
		t.Fatal(err)
	}
	if pg.Data[10] != 'A' || pg.Data[2000] != 'B' {
		t.Fatalf("expected both edits merged, got [10]=%q [2000]=%q", pg.Data[10], pg.Data[2000])
	}
}

func TestMergeLadderAbortsOnOverlappingEdits(t *testing.T) {
	eng, page := newTestEngine(t, false)
	eng.EnableMergeLadder(true)

	base := bytesOf(4096, 0)
	seed := eng.Begin()
	seed.WritePage(&storage.Page{No: page, Data: base})
	if err := seed.Commit(); err != nil {
		t.Fatal(err)
	}

	t1 := eng.Begin()
	t2 := eng.Begin()
	t1.ReadPage(page)
	t2.ReadPage(page)

	mod1 := make([]byte, 4096)
	copy(mod1, base)
	mod1[50] = 'A'
	t1.WritePage(&storage.Page{No: page, Data: mod1})

	mod2 := make([]byte, 4096)
	copy(mod2, base)
	mod2[50] = 'B'
	t2.WritePage(&storage.Page{No: page, Data: mod2})

	if err := t1.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := t2.Commit(); err != ErrFirstCommitterWins {
		t.Fatalf("expected overlapping edit to abort with ErrFirstCommitterWins, got %v", err)
	}
}

func TestFirstCommitterWinsWithoutMergeLadder(t *testing.T) {
	eng, page := newTestEngine(t, false)

	base := bytesOf(4096, 0)
	seed := eng.Begin()
	seed.WritePage(&storage.Page{No: page, Data: base})
	if err := seed.Commit(); err != nil {
		t.Fatal(err)
	}

	t1 := eng.Begin()
	t2 := eng.Begin()
	t1.ReadPage(page)
	t2.ReadPage(page)

	mod1 := make([]byte, 4096)
	copy(mod1, base)
	mod1[10] = 'A'
	t1.WritePage(&storage.Page{No: page, Data: mod1})

	mod2 := make([]byte, 4096)
	copy(mod2, base)
	mod2[2000] = 'B'
	t2.WritePage(&storage.Page{No: page, Data: mod2})

	if err := t1.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := t2.Commit(); err != ErrFirstCommitterWins {
		t.Fatalf("expected plain WriteConflict with merge ladder disabled, got %v", err)
	}
}
