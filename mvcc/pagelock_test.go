package mvcc

import (
	"sync"
	"testing"

	"github.com/frankensqlite/frankensqlite/storage"
)

func TestPageLockAcquireRelease(t *testing.T) {
	lt := NewPageLockTable()

	if err := lt.TryAcquire(1, 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lt.Release(1, 100)

	if err := lt.TryAcquire(1, 200); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	lt.Release(1, 200)
}

func TestPageLockBusy(t *testing.T) {
	lt := NewPageLockTable()

	if err := lt.TryAcquire(1, 100); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := lt.TryAcquire(1, 200); err != ErrPageBusy {
		t.Fatalf("expected ErrPageBusy, got %v", err)
	}
	lt.Release(1, 100)
	if err := lt.TryAcquire(1, 200); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestPageLockReentrantSameTxn(t *testing.T) {
	lt := NewPageLockTable()
	if err := lt.TryAcquire(1, 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lt.TryAcquire(1, 100); err != nil {
		t.Fatalf("re-entrant acquire by same txn should not be busy: %v", err)
	}
}

func TestPageLockDifferentPagesNoContention(t *testing.T) {
	lt := NewPageLockTable()
	if err := lt.TryAcquire(1, 100); err != nil {
		t.Fatalf("acquire page 1: %v", err)
	}
	if err := lt.TryAcquire(2, 200); err != nil {
		t.Fatalf("acquire page 2: %v", err)
	}
	lt.Release(1, 100)
	lt.Release(2, 200)
}

func TestPageLockConcurrentDifferentPages(t *testing.T) {
	lt := NewPageLockTable()
	var wg sync.WaitGroup
	errCh := make(chan error, 2000)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(txn uint64) {
			defer wg.Done()
			page := storage.PageNumber(txn)
			for j := 0; j < 50; j++ {
				if err := lt.TryAcquire(page, txn); err != nil {
					errCh <- err
					continue
				}
				lt.Release(page, txn)
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("unexpected contention on disjoint pages: %v", err)
	}
}

func TestPageLockReleaseAll(t *testing.T) {
	lt := NewPageLockTable()
	pages := []storage.PageNumber{1, 2, 3}
	for _, p := range pages {
		if err := lt.TryAcquire(p, 42); err != nil {
			t.Fatalf("acquire %d: %v", p, err)
		}
	}
	lt.ReleaseAll(42, pages)
	for _, p := range pages {
		if err := lt.TryAcquire(p, 99); err != nil {
			t.Fatalf("expected page %d free after ReleaseAll: %v", p, err)
		}
	}
}

func TestPageLockReleaseWithoutAcquire(t *testing.T) {
	lt := NewPageLockTable()
	lt.Release(1, 999) // must not panic
}
