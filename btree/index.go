package btree

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/frankensqlite/frankensqlite/storage"
)

// indexEntry is one (key, rowid) pair stored in an index-tree leaf.
type indexEntry struct {
	Key   []byte
	Rowid uint64
}

// Index is a key-only B+tree mapping an encoded index key to the rowids of
// matching table rows, rooted at RootPage. Grounded on the teacher's
// index.BTree/index.Index pair, narrowed from a string-keyed record index to
// a []byte-keyed rowid index over the shared PageSource abstraction.
type Index struct {
	RootPage storage.PageNumber
	src      PageSource
}

// NewIndex allocates a fresh, empty index tree.
func NewIndex(src PageSource) (*Index, error) {
	root, err := src.AllocatePage()
	if err != nil {
		return nil, err
	}
	pg, err := src.ReadPage(root)
	if err != nil {
		return nil, err
	}
	initPage(pg, typeLeafIndex)
	if err := src.WritePage(pg); err != nil {
		return nil, err
	}
	return &Index{RootPage: root, src: src}, nil
}

// OpenIndex attaches to an existing index tree rooted at root.
func OpenIndex(src PageSource, root storage.PageNumber) *Index {
	return &Index{RootPage: root, src: src}
}

func readIndexLeafEntries(pg *storage.Page) []indexEntry {
	n := cellCount(pg)
	off := dataOffset(pg)
	entries := make([]indexEntry, 0, n)
	for i := 0; i < n; i++ {
		kl, w := GetVarint(pg.Data[off:])
		off += w
		key := make([]byte, kl)
		copy(key, pg.Data[off:off+int(kl)])
		off += int(kl)
		rowid, w2 := GetVarint(pg.Data[off:])
		off += w2
		entries = append(entries, indexEntry{Key: key, Rowid: rowid})
	}
	return entries
}

func writeIndexLeaf(pg *storage.Page, entries []indexEntry, next storage.PageNumber) {
	initPage(pg, typeLeafIndex)
	setNextLeaf(pg, next)
	off := dataOffset(pg)
	for _, e := range entries {
		var buf [9]byte
		n := PutVarint(buf[:], uint64(len(e.Key)))
		off += copy(pg.Data[off:], buf[:n])
		off += copy(pg.Data[off:], e.Key)
		n = PutVarint(buf[:], e.Rowid)
		off += copy(pg.Data[off:], buf[:n])
	}
	setCellCount(pg, len(entries))
}

func indexLeafSize(entries []indexEntry) int {
	s := 0
	for _, e := range entries {
		s += VarintLen(uint64(len(e.Key))) + len(e.Key) + VarintLen(e.Rowid)
	}
	return s
}

type indexInternal struct {
	keys     [][]byte
	children []storage.PageNumber
}

func readIndexInternal(pg *storage.Page) indexInternal {
	n := cellCount(pg)
	off := dataOffset(pg)
	node := indexInternal{keys: make([][]byte, 0, n), children: make([]storage.PageNumber, 0, n+1)}
	for i := 0; i < n; i++ {
		child := binary.BigEndian.Uint32(pg.Data[off:])
		off += 4
		kl, w := GetVarint(pg.Data[off:])
		off += w
		key := make([]byte, kl)
		copy(key, pg.Data[off:off+int(kl)])
		off += int(kl)
		node.children = append(node.children, storage.PageNumber(child))
		node.keys = append(node.keys, key)
	}
	node.children = append(node.children, rightmostChild(pg))
	return node
}

func writeIndexInternal(pg *storage.Page, node indexInternal) {
	initPage(pg, typeInteriorIndex)
	off := dataOffset(pg)
	for i, key := range node.keys {
		binary.BigEndian.PutUint32(pg.Data[off:], uint32(node.children[i]))
		off += 4
		var buf [9]byte
		n := PutVarint(buf[:], uint64(len(key)))
		off += copy(pg.Data[off:], buf[:n])
		off += copy(pg.Data[off:], key)
	}
	setCellCount(pg, len(node.keys))
	setRightmostChild(pg, node.children[len(node.children)-1])
}

func indexInternalSize(node indexInternal) int {
	s := 0
	for _, k := range node.keys {
		s += 4 + VarintLen(uint64(len(k))) + len(k)
	}
	return s
}

func (ix *Index) findLeaf(key []byte) (*storage.Page, error) {
	no := ix.RootPage
	for {
		pg, err := ix.src.ReadPage(no)
		if err != nil {
			return nil, err
		}
		if isLeaf(pg) {
			return pg, nil
		}
		node := readIndexInternal(pg)
		idx := sort.Search(len(node.keys), func(i int) bool { return bytes.Compare(node.keys[i], key) > 0 })
		no = node.children[idx]
	}
}

func (ix *Index) findLeftmostLeaf() (*storage.Page, error) {
	no := ix.RootPage
	for {
		pg, err := ix.src.ReadPage(no)
		if err != nil {
			return nil, err
		}
		if isLeaf(pg) {
			return pg, nil
		}
		node := readIndexInternal(pg)
		no = node.children[0]
	}
}

// Lookup returns every rowid stored under key.
func (ix *Index) Lookup(key []byte) ([]uint64, error) {
	pg, err := ix.findLeaf(key)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for {
		entries := readIndexLeafEntries(pg)
		done := false
		for _, e := range entries {
			c := bytes.Compare(e.Key, key)
			if c == 0 {
				out = append(out, e.Rowid)
			} else if c > 0 {
				done = true
				break
			}
		}
		if done {
			break
		}
		next := nextLeaf(pg)
		if next == 0 {
			break
		}
		pg, err = ix.src.ReadPage(next)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RangeScan returns rowids whose key lies in [minKey, maxKey] (either bound
// may be nil for open-ended).
func (ix *Index) RangeScan(minKey, maxKey []byte) ([]uint64, error) {
	var pg *storage.Page
	var err error
	if minKey != nil {
		pg, err = ix.findLeaf(minKey)
	} else {
		pg, err = ix.findLeftmostLeaf()
	}
	if err != nil {
		return nil, err
	}
	var out []uint64
	for {
		entries := readIndexLeafEntries(pg)
		stop := false
		for _, e := range entries {
			if minKey != nil && bytes.Compare(e.Key, minKey) < 0 {
				continue
			}
			if maxKey != nil && bytes.Compare(e.Key, maxKey) > 0 {
				stop = true
				break
			}
			out = append(out, e.Rowid)
		}
		if stop {
			break
		}
		next := nextLeaf(pg)
		if next == 0 {
			break
		}
		pg, err = ix.src.ReadPage(next)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type indexSplit struct {
	key     []byte
	newPage storage.PageNumber
}

// Insert adds (key, rowid).
func (ix *Index) Insert(key []byte, rowid uint64) error {
	split, err := ix.insertRecursive(ix.RootPage, key, rowid)
	if err != nil {
		return err
	}
	if split != nil {
		newRoot, err := ix.src.AllocatePage()
		if err != nil {
			return err
		}
		pg, err := ix.src.ReadPage(newRoot)
		if err != nil {
			return err
		}
		writeIndexInternal(pg, indexInternal{
			keys:     [][]byte{split.key},
			children: []storage.PageNumber{ix.RootPage, split.newPage},
		})
		if err := ix.src.WritePage(pg); err != nil {
			return err
		}
		ix.RootPage = newRoot
	}
	return nil
}

func (ix *Index) insertRecursive(no storage.PageNumber, key []byte, rowid uint64) (*indexSplit, error) {
	pg, err := ix.src.ReadPage(no)
	if err != nil {
		return nil, err
	}
	if isLeaf(pg) {
		return ix.insertIntoLeaf(pg, key, rowid)
	}
	node := readIndexInternal(pg)
	idx := sort.Search(len(node.keys), func(i int) bool { return bytes.Compare(node.keys[i], key) > 0 })
	childSplit, err := ix.insertRecursive(node.children[idx], key, rowid)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}
	return ix.insertIntoInternal(pg, node, idx, childSplit)
}

func (ix *Index) insertIntoLeaf(pg *storage.Page, key []byte, rowid uint64) (*indexSplit, error) {
	entries := readIndexLeafEntries(pg)
	next := nextLeaf(pg)

	pos := sort.Search(len(entries), func(i int) bool {
		c := bytes.Compare(entries[i].Key, key)
		if c == 0 {
			return entries[i].Rowid >= rowid
		}
		return c >= 0
	})
	entries = append(entries, indexEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = indexEntry{Key: key, Rowid: rowid}

	if leafHeaderSize+indexLeafSize(entries) <= len(pg.Data) {
		writeIndexLeaf(pg, entries, next)
		return nil, ix.src.WritePage(pg)
	}

	mid := len(entries) / 2
	left := append([]indexEntry{}, entries[:mid]...)
	right := append([]indexEntry{}, entries[mid:]...)

	newNo, err := ix.src.AllocatePage()
	if err != nil {
		return nil, err
	}
	newPg, err := ix.src.ReadPage(newNo)
	if err != nil {
		return nil, err
	}
	writeIndexLeaf(newPg, right, next)
	if err := ix.src.WritePage(newPg); err != nil {
		return nil, err
	}
	writeIndexLeaf(pg, left, newNo)
	if err := ix.src.WritePage(pg); err != nil {
		return nil, err
	}
	return &indexSplit{key: right[0].Key, newPage: newNo}, nil
}

func (ix *Index) insertIntoInternal(pg *storage.Page, node indexInternal, idx int, split *indexSplit) (*indexSplit, error) {
	node.keys = append(node.keys, nil)
	copy(node.keys[idx+1:], node.keys[idx:])
	node.keys[idx] = split.key

	node.children = append(node.children, 0)
	copy(node.children[idx+2:], node.children[idx+1:])
	node.children[idx+1] = split.newPage

	if interiorHeaderSize+indexInternalSize(node) <= len(pg.Data) {
		writeIndexInternal(pg, node)
		return nil, ix.src.WritePage(pg)
	}

	mid := len(node.keys) / 2
	pushUp := node.keys[mid]
	left := indexInternal{keys: append([][]byte{}, node.keys[:mid]...), children: append([]storage.PageNumber{}, node.children[:mid+1]...)}
	right := indexInternal{keys: append([][]byte{}, node.keys[mid+1:]...), children: append([]storage.PageNumber{}, node.children[mid+1:]...)}

	newNo, err := ix.src.AllocatePage()
	if err != nil {
		return nil, err
	}
	newPg, err := ix.src.ReadPage(newNo)
	if err != nil {
		return nil, err
	}
	writeIndexInternal(newPg, right)
	if err := ix.src.WritePage(newPg); err != nil {
		return nil, err
	}
	writeIndexInternal(pg, left)
	if err := ix.src.WritePage(pg); err != nil {
		return nil, err
	}
	return &indexSplit{key: pushUp, newPage: newNo}, nil
}

// Delete removes one (key, rowid) pair.
func (ix *Index) Delete(key []byte, rowid uint64) error {
	pg, err := ix.findLeaf(key)
	if err != nil {
		return err
	}
	entries := readIndexLeafEntries(pg)
	next := nextLeaf(pg)
	for i, e := range entries {
		if bytes.Equal(e.Key, key) && e.Rowid == rowid {
			entries = append(entries[:i], entries[i+1:]...)
			writeIndexLeaf(pg, entries, next)
			return ix.src.WritePage(pg)
		}
	}
	return nil
}

// EncodeKey converts a column value into its index-key byte encoding,
// preserving comparison order for the affinities EncodeRecord supports.
// Adapted from the teacher's index.ValueToKey (a string-tagged encoder),
// generalized to emit comparable bytes rather than a display string.
func EncodeKey(v Value) []byte {
	switch x := v.(type) {
	case nil:
		return []byte{0x00}
	case int64:
		buf := make([]byte, 9)
		buf[0] = 0x01
		binary.BigEndian.PutUint64(buf[1:], uint64(x)^(1<<63))
		return buf
	case int:
		return EncodeKey(int64(x))
	case float64:
		buf := make([]byte, 9)
		buf[0] = 0x02
		bits := math.Float64bits(x)
		if x >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		binary.BigEndian.PutUint64(buf[1:], bits)
		return buf
	case string:
		return append([]byte{0x03}, []byte(x)...)
	case []byte:
		return append([]byte{0x04}, x...)
	case bool:
		if x {
			return []byte{0x01, 1}
		}
		return []byte{0x01, 0}
	default:
		return []byte{0x03}
	}
}
