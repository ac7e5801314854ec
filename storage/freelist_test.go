package storage

import (
	"testing"

	"github.com/frankensqlite/frankensqlite/vfs"
)

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	p, err := Open(vfs.NewMemory(), "test.db", 4096, 16, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

func TestAllocatePageExtendsWhenFreelistEmpty(t *testing.T) {
	p := newTestPager(t)
	before := p.TotalPages()
	no, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if no != PageNumber(before+1) {
		t.Fatalf("expected new page %d, got %d", before+1, no)
	}
	if p.TotalPages() != before+1 {
		t.Fatalf("expected total pages to grow by one, got %d", p.TotalPages())
	}
}

func TestFreePageIsReusedBeforeExtendingFile(t *testing.T) {
	p := newTestPager(t)
	no, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	total := p.TotalPages()

	if err := p.FreePage(no); err != nil {
		t.Fatalf("free: %v", err)
	}
	if p.FreelistPages() != 1 {
		t.Fatalf("expected 1 free page, got %d", p.FreelistPages())
	}

	reused, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate after free: %v", err)
	}
	if reused != no {
		t.Fatalf("expected to reuse freed page %d, got %d", no, reused)
	}
	if p.TotalPages() != total {
		t.Fatalf("expected file not to grow when reusing a free page, got total=%d want=%d", p.TotalPages(), total)
	}
	if p.FreelistPages() != 0 {
		t.Fatalf("expected free list empty after reuse, got %d", p.FreelistPages())
	}
}

func TestFreeListHandlesManyPagesAcrossTrunks(t *testing.T) {
	p := newTestPager(t)

	const n = 1100 // exceeds trunkMaxLeaves(4096)+1 to force a second trunk page
	var pages []PageNumber
	for i := 0; i < n; i++ {
		no, err := p.AllocatePage()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		pages = append(pages, no)
	}

	for _, no := range pages {
		if err := p.FreePage(no); err != nil {
			t.Fatalf("free %d: %v", no, err)
		}
	}
	if int(p.FreelistPages()) != n {
		t.Fatalf("expected %d free pages, got %d", n, p.FreelistPages())
	}

	seen := make(map[PageNumber]bool)
	for i := 0; i < n; i++ {
		no, err := p.AllocatePage()
		if err != nil {
			t.Fatalf("reallocate %d: %v", i, err)
		}
		if seen[no] {
			t.Fatalf("page %d handed out twice", no)
		}
		seen[no] = true
	}
	if p.FreelistPages() != 0 {
		t.Fatalf("expected free list drained, got %d", p.FreelistPages())
	}
}
