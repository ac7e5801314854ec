package storage

import (
	"fmt"
	"sync"

	"github.com/frankensqlite/frankensqlite/vfs"
)

// Pager is the atomic unit the upper layers see for file-resident (baseline,
// TxnId 0) pages: allocation, the free list, and the ARC-backed cache. The
// MVCC engine (package mvcc) layers version chains and transaction-scoped
// writes on top of a Pager; this package never hears about transactions,
// matching spec §4.4's framing of the pager as the bottom of the read
// resolution order. Modeled on the teacher's storage.Pager, split so the
// transaction/version bookkeeping the teacher folded into Pager now lives in
// mvcc.Engine instead.
type Pager struct {
	mu   sync.RWMutex
	vfs  vfs.VFS
	file vfs.File
	path string

	pageSize int
	header   *FileHeader
	cache    *Cache

	readOnly bool
}

// ErrReadOnly is returned when a write is attempted on a read-only pager.
var ErrReadOnly = fmt.Errorf("storage: database is read-only")

// Open opens or creates path with v, fixing the page size for new files.
func Open(v vfs.VFS, path string, pageSize int, cacheCapacity int, readOnly bool) (*Pager, error) {
	flags := vfs.OpenReadWrite | vfs.OpenCreate
	if readOnly {
		flags = vfs.OpenReadOnly
	}
	f, err := v.Open(path, flags)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	p := &Pager{
		vfs:      v,
		file:     f,
		path:     path,
		pageSize: pageSize,
		cache:    NewCache(cacheCapacity),
		readOnly: readOnly,
	}

	size, err := f.FileSize()
	if err != nil {
		f.Close()
		return nil, err
	}

	if size == 0 {
		if readOnly {
			f.Close()
			return nil, fmt.Errorf("storage: cannot create database in read-only mode")
		}
		if !ValidPageSize(pageSize) {
			f.Close()
			return nil, fmt.Errorf("storage: invalid page size %d", pageSize)
		}
		if err := p.initHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := p.loadHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return p, nil
}

func (p *Pager) initHeader() error {
	p.header = &FileHeader{
		PageSize:     EncodePageSize(p.pageSize),
		WriteVersion: 2, // WAL
		ReadVersion:  2,
		SizeInPages:  1,
		SchemaFormat: 4,
		TextEncoding: 1,
	}
	return p.flushHeaderLocked()
}

func (p *Pager) loadHeader() error {
	buf := make([]byte, FileHeaderSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("storage: read header: %w", err)
	}
	h, err := DecodeFileHeader(buf)
	if err != nil {
		return err
	}
	p.header = h
	p.pageSize = DecodePageSize(h.PageSize)
	return nil
}

func (p *Pager) flushHeaderLocked() error {
	buf := make([]byte, p.pageSize)
	p.header.Encode(buf)
	_, err := p.file.WriteAt(buf, 0)
	return err
}

// PageSize returns the fixed page size for this database file.
func (p *Pager) PageSize() int { return p.pageSize }

// TotalPages returns the current database size in pages, including page 1.
func (p *Pager) TotalPages() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.header.SizeInPages
}

// Cache exposes the shared ARC page cache so mvcc can opportunistically
// cache baseline reads alongside its own version arena.
func (p *Pager) Cache() *Cache { return p.cache }

// ReadBaseline reads the file-resident (TxnId 0) version of a page, through
// the ARC cache.
func (p *Pager) ReadBaseline(no PageNumber) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readBaselineLocked(no)
}

func (p *Pager) readBaselineLocked(no PageNumber) (*Page, error) {
	if no == 0 || uint32(no) > p.header.SizeInPages {
		return nil, fmt.Errorf("storage: page %d out of range (total=%d)", no, p.header.SizeInPages)
	}
	key := CacheKey{No: no}
	if data, ok := p.cache.Get(key); ok {
		pg := &Page{No: no, Data: make([]byte, len(data))}
		copy(pg.Data, data)
		return pg, nil
	}
	pg := NewPage(no, p.pageSize)
	if _, err := p.file.ReadAt(pg.Data, int64(no-1)*int64(p.pageSize)); err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w", no, err)
	}
	cached := make([]byte, len(pg.Data))
	copy(cached, pg.Data)
	p.cache.Put(key, cached)
	return pg, nil
}

// WriteBaseline writes a page directly to the main database file and
// refreshes the cache. Used by checkpoint and by recovery — never called
// directly by a live transaction, which always goes through mvcc's WAL
// append + version-chain publish path first.
func (p *Pager) WriteBaseline(pg *Page) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBaselineLocked(pg)
}

func (p *Pager) writeBaselineLocked(pg *Page) error {
	for uint32(pg.No) > p.header.SizeInPages {
		p.header.SizeInPages++
	}
	if _, err := p.file.WriteAt(pg.Data, int64(pg.No-1)*int64(p.pageSize)); err != nil {
		return err
	}
	cached := make([]byte, len(pg.Data))
	copy(cached, pg.Data)
	p.cache.Put(CacheKey{No: pg.No}, cached)
	return nil
}

// AllocatePage returns a page number for new content: a page popped off the
// trunk-leaf free list (see freelist.go) if one is available, or the file
// extended by one page otherwise. Grounded on spec §4.4's free-list
// requirement and SQLite's own pager, which always checks the free list
// before growing the file.
func (p *Pager) AllocatePage() (PageNumber, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if no, ok, err := p.allocateFromFreelistLocked(); err != nil {
		return 0, err
	} else if ok {
		// Zero the reused page; callers expect a pristine page.
		if err := p.writeBaselineLocked(NewPage(no, p.pageSize)); err != nil {
			return 0, err
		}
		return no, nil
	}

	no := PageNumber(p.header.SizeInPages + 1)
	pg := NewPage(no, p.pageSize)
	if err := p.writeBaselineLocked(pg); err != nil {
		return 0, err
	}
	return no, nil
}

// FreePage returns no to the trunk-leaf free list so a later AllocatePage
// can reuse it instead of growing the file. Neither btree nor mvcc calls
// it: emptied B-tree pages and trimmed version-chain entries are not
// returned to the free list.
func (p *Pager) FreePage(no PageNumber) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freePageLocked(no)
}

// FreelistTrunk/FreelistPages/SetFreelist expose the header's free-list
// fields.
func (p *Pager) FreelistTrunk() uint32 { p.mu.RLock(); defer p.mu.RUnlock(); return p.header.FreelistTrunk }
func (p *Pager) FreelistPages() uint32 { p.mu.RLock(); defer p.mu.RUnlock(); return p.header.FreelistPages }

func (p *Pager) SetFreelist(trunk, count uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.FreelistTrunk = trunk
	p.header.FreelistPages = count
	return p.flushHeaderLocked()
}

// BumpChangeCounter advances the header's change counter on commit, the way
// SQLite signals other readers that the schema/content generation changed.
func (p *Pager) BumpChangeCounter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.ChangeCounter++
	return p.flushHeaderLocked()
}

// Sync forces the underlying file durable.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.file.Sync(vfs.SyncFull)
}

// IsReadOnly reports whether writes are rejected.
func (p *Pager) IsReadOnly() bool { return p.readOnly }

// Close flushes the header and closes the file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.readOnly {
		if err := p.flushHeaderLocked(); err != nil {
			return err
		}
		if err := p.file.Sync(vfs.SyncFull); err != nil {
			return err
		}
	}
	return p.file.Close()
}
