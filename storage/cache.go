package storage

import "sync"

// CacheKey identifies one page version in the cache: the page number plus
// the transaction that created it. TxnId 0 denotes the file-resident
// baseline version (spec §3.1), so committed-and-checkpointed pages share
// one cache slot regardless of which reader asks for them.
type CacheKey struct {
	No  PageNumber
	Txn uint64
}

// Cache is a page buffer with ARC (Adaptive Replacement Cache) eviction,
// keyed by (page_no, txn_id) so multiple versions of a page coexist (spec
// §4.2). Generalizes the teacher's storage.lruCache (a plain doubly-linked
// LRU keyed by page_no only) to the four-list ARC algorithm the spec
// mandates, while keeping its node-pool/hit-rate bookkeeping style.
type Cache struct {
	mu       sync.Mutex
	capacity int // C: target total resident pages (T1+T2)
	p        int // adaptive target size for T1

	t1, t2, b1, b2 *list
	entries        map[CacheKey]*node

	pinned map[CacheKey]int // refcount; never evicted while > 0

	hits, misses uint64
}

type node struct {
	key        CacheKey
	data       []byte
	dirty      bool
	superseded bool // a newer committed version is visible to all active snapshots
	prev, next *node
}

type list struct {
	head, tail *node
	size       int
}

func (l *list) pushFront(n *node) {
	n.prev, n.next = nil, l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.size++
}

func (l *list) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.size--
}

// NewCache builds an ARC cache targeting capacity resident pages.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		capacity: capacity,
		t1:       &list{}, t2: &list{}, b1: &list{}, b2: &list{},
		entries: make(map[CacheKey]*node, capacity),
		pinned:  make(map[CacheKey]int),
	}
}

// Get returns the cached page data for key, if resident.
func (c *Cache) Get(key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok || n.data == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	c.onHit(n)
	return n.data, true
}

func (c *Cache) onHit(n *node) {
	switch {
	case c.inList(c.t1, n):
		c.t1.remove(n)
		c.t2.pushFront(n)
	case c.inList(c.t2, n):
		c.t2.remove(n)
		c.t2.pushFront(n)
	}
}

func (c *Cache) inList(l *list, n *node) bool {
	return n.prev != nil || n.next != nil || l.head == n
}

// Put inserts or refreshes a page version. Ghost hits (B1/B2) adjust the
// adaptive parameter p per the ARC rule before the page is fetched into T2.
func (c *Cache) Put(key CacheKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok && n.data != nil {
		n.data = data
		c.t1.remove(n)
		c.t2.remove(n)
		c.t2.pushFront(n)
		return
	}

	if n, ok := c.entries[key]; ok {
		// ghost hit
		if c.inGhost(c.b1, n) {
			delta := 1
			if c.b1.size < c.b2.size {
				delta = c.b2.size / c.b1.size
			}
			c.p = min(c.p+delta, c.capacity)
			c.b1.remove(n)
		} else if c.inGhost(c.b2, n) {
			delta := 1
			if c.b2.size < c.b1.size {
				delta = c.b1.size / c.b2.size
			}
			c.p = max(c.p-delta, 0)
			c.b2.remove(n)
		}
		n.data = data
		c.t2.pushFront(n)
		return
	}

	n := &node{key: key, data: data}
	c.entries[key] = n
	c.t1.pushFront(n)
	c.replace(false)
	c.trimGhosts()
}

func (c *Cache) inGhost(l *list, n *node) bool {
	return n.prev != nil || n.next != nil || l.head == n
}

// replace evicts from T1 or T2 per the adaptive parameter p, preferring
// superseded and unpinned pages, and parks a ghost entry (spec §4.2
// eviction constraints).
func (c *Cache) replace(b2Hit bool) {
	skipped := 0
	for c.t1.size+c.t2.size > c.capacity {
		victim := c.pickVictim()
		if victim == nil {
			return
		}
		if c.pinned[victim.key] > 0 || victim.dirty {
			// never evict pinned or dirty pages; park it at the back instead,
			// and stop once every resident page has been skipped
			skipped++
			if skipped > c.t1.size+c.t2.size {
				return
			}
			c.demote(victim)
			continue
		}
		if c.inList(c.t1, victim) {
			c.t1.remove(victim)
			c.b1.pushFront(victim)
		} else {
			c.t2.remove(victim)
			c.b2.pushFront(victim)
		}
		victim.data = nil
	}
}

func (c *Cache) pickVictim() *node {
	if c.t1.size > 0 && (c.t1.size > c.p || (c.t1.size == c.p && c.t1.size > 0)) {
		if n := c.firstSuperseded(c.t1); n != nil {
			return n
		}
		return c.t1.tail
	}
	if c.t2.size > 0 {
		if n := c.firstSuperseded(c.t2); n != nil {
			return n
		}
		return c.t2.tail
	}
	if c.t1.size > 0 {
		return c.t1.tail
	}
	return nil
}

func (c *Cache) firstSuperseded(l *list) *node {
	for n := l.tail; n != nil; n = n.prev {
		if n.superseded && c.pinned[n.key] == 0 && !n.dirty {
			return n
		}
	}
	return nil
}

// demote moves an unevictable node to the front of its list so replace()
// makes progress by trying the next victim instead of spinning.
func (c *Cache) demote(n *node) {
	if c.inList(c.t1, n) {
		c.t1.remove(n)
		c.t1.pushFront(n)
	} else if c.inList(c.t2, n) {
		c.t2.remove(n)
		c.t2.pushFront(n)
	}
}

func (c *Cache) trimGhosts() {
	for c.b1.size+c.t1.size > c.capacity {
		victim := c.b1.tail
		if victim == nil {
			break
		}
		c.b1.remove(victim)
		delete(c.entries, victim.key)
	}
	for c.b1.size+c.b2.size+c.t1.size+c.t2.size > 2*c.capacity {
		victim := c.b2.tail
		if victim == nil {
			break
		}
		c.b2.remove(victim)
		delete(c.entries, victim.key)
	}
}

// Pin/Unpin implement the reference-count contract of spec §4.2: pinned
// pages are never evicted.
func (c *Cache) Pin(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[key]++
}

func (c *Cache) Unpin(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned[key] > 0 {
		c.pinned[key]--
		if c.pinned[key] == 0 {
			delete(c.pinned, key)
		}
	}
}

// MarkDirty flags a resident page as dirty, excluding it from eviction
// until it is written through the WAL (spec §4.2).
func (c *Cache) MarkDirty(key CacheKey, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		n.dirty = dirty
	}
}

// MarkSuperseded flags that a newer committed version exists that is
// visible to every active snapshot, making key a preferred eviction
// candidate (spec §4.2 "prefer superseded versions").
func (c *Cache) MarkSuperseded(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		n.superseded = true
	}
}

func (c *Cache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		return
	}
	for _, l := range []*list{c.t1, c.t2, c.b1, c.b2} {
		if c.inList(l, n) {
			l.remove(n)
			break
		}
	}
	delete(c.entries, key)
}

// Stats reports hit/miss counters and resident size for introspection
// (mirrors the teacher's Pager.CacheStats/CacheHitRate).
func (c *Cache) Stats() (hits, misses uint64, size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.t1.size + c.t2.size, c.capacity
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
