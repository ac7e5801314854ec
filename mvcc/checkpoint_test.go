package mvcc

import (
	"testing"

	"github.com/frankensqlite/frankensqlite/storage"
)

func TestCheckpointPassiveSkipsPagesPinnedByAReader(t *testing.T) {
	eng, page := newTestEngine(t, false)

	w1 := eng.Begin()
	if err := w1.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'a')}); err != nil {
		t.Fatal(err)
	}
	if err := w1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reader := eng.Begin() // snapshot predates the next write below

	w2 := eng.Begin()
	if err := w2.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'b')}); err != nil {
		t.Fatal(err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	result, err := eng.Checkpoint(CheckpointPassive)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if result.PagesPending == 0 {
		t.Fatalf("expected the page written after reader's snapshot to be pending, got %+v", result)
	}
	if result.WALReset {
		t.Fatalf("passive checkpoint must never reset the WAL")
	}

	pg, err := eng.pager.ReadBaseline(page)
	if err != nil {
		t.Fatalf("read baseline: %v", err)
	}
	if pg.Data[0] != 'a' {
		t.Fatalf("expected baseline to hold the version visible to every active reader ('a'), got %q", pg.Data[0])
	}

	reader.Abort()

	result, err = eng.Checkpoint(CheckpointFull)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !result.WALReset {
		t.Fatalf("expected full checkpoint to reset the WAL once the reader is gone, got %+v", result)
	}

	pg, err = eng.pager.ReadBaseline(page)
	if err != nil {
		t.Fatalf("read baseline: %v", err)
	}
	if pg.Data[0] != 'b' {
		t.Fatalf("expected baseline to hold the newest committed version ('b') after the full checkpoint, got %q", pg.Data[0])
	}
}

func TestCheckpointTruncateEmptiesWAL(t *testing.T) {
	eng, page := newTestEngine(t, false)

	txn := eng.Begin()
	if err := txn.WritePage(&storage.Page{No: page, Data: bytesOf(4096, 'z')}); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	before := eng.log.FrameCount()
	if before == 0 {
		t.Fatalf("expected frames in the log before checkpointing")
	}

	result, err := eng.Checkpoint(CheckpointTruncate)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !result.WALReset {
		t.Fatalf("expected truncate checkpoint to reset the WAL, got %+v", result)
	}
	if eng.log.FrameCount() != 0 {
		t.Fatalf("expected the log to be empty after a truncate checkpoint, got %d frames", eng.log.FrameCount())
	}
}
