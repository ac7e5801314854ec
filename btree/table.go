// Package btree implements the table and index B+trees (spec C6): leaves
// hold (rowid -> record) or (key -> rowid) entries, interior pages hold
// separator keys and child pointers, and a table cursor walks the leaves in
// key order through their next-leaf pointers. Modeled on the teacher's index.BTree (a disk-backed
// B+tree keyed by string over storage.Pager.ReadPage/WritePage), generalized
// from the teacher's single string-keyed tree into the spec's two distinct
// trees and rewired onto the versioned PageSource the mvcc engine provides
// instead of a direct *storage.Pager.
package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/klauspost/compress/snappy"

	"github.com/frankensqlite/frankensqlite/storage"
)

// Stored records carry a one-byte compression flag, the way the teacher's
// Pager.compressRecord/DecompressRecord tag each record slot: try snappy,
// keep it only if it actually shrinks the payload, and record which
// happened so the reader knows whether to undo it.
const (
	recordFlagRaw    = 0x00
	recordFlagSnappy = 0x01
)

func compressRecord(data []byte) []byte {
	compressed := snappy.Encode(nil, data)
	if len(compressed) < len(data) {
		out := make([]byte, 1+len(compressed))
		out[0] = recordFlagSnappy
		copy(out[1:], compressed)
		return out
	}
	out := make([]byte, 1+len(data))
	out[0] = recordFlagRaw
	copy(out[1:], data)
	return out
}

func decompressRecord(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("btree: empty stored record")
	}
	flag, body := stored[0], stored[1:]
	switch flag {
	case recordFlagRaw:
		return body, nil
	case recordFlagSnappy:
		return snappy.Decode(nil, body)
	default:
		return nil, fmt.Errorf("btree: unknown record flag %d", flag)
	}
}

// tableEntry is one (rowid, record) pair stored in a table-tree leaf.
type tableEntry struct {
	Rowid  uint64
	Record []byte
}

// Table is a B+tree mapping rowid -> serialized record, rooted at RootPage.
type Table struct {
	RootPage storage.PageNumber
	src      PageSource
}

// NewTable allocates a fresh, empty table tree.
func NewTable(src PageSource) (*Table, error) {
	root, err := src.AllocatePage()
	if err != nil {
		return nil, err
	}
	pg, err := src.ReadPage(root)
	if err != nil {
		return nil, err
	}
	initPage(pg, typeLeafTable)
	if err := src.WritePage(pg); err != nil {
		return nil, err
	}
	return &Table{RootPage: root, src: src}, nil
}

// OpenTable attaches to an existing table tree rooted at root.
func OpenTable(src PageSource, root storage.PageNumber) *Table {
	return &Table{RootPage: root, src: src}
}

func readTableLeafEntries(pg *storage.Page) []tableEntry {
	n := cellCount(pg)
	off := dataOffset(pg)
	entries := make([]tableEntry, 0, n)
	for i := 0; i < n; i++ {
		rowid, w := GetVarint(pg.Data[off:])
		off += w
		recLen, w2 := GetVarint(pg.Data[off:])
		off += w2
		rec := make([]byte, recLen)
		copy(rec, pg.Data[off:off+int(recLen)])
		off += int(recLen)
		entries = append(entries, tableEntry{Rowid: rowid, Record: rec})
	}
	return entries
}

func writeTableLeaf(pg *storage.Page, entries []tableEntry, next storage.PageNumber) {
	initPage(pg, typeLeafTable)
	setNextLeaf(pg, next)
	off := dataOffset(pg)
	for _, e := range entries {
		var buf [9]byte
		n := PutVarint(buf[:], e.Rowid)
		off += copy(pg.Data[off:], buf[:n])
		n = PutVarint(buf[:], uint64(len(e.Record)))
		off += copy(pg.Data[off:], buf[:n])
		off += copy(pg.Data[off:], e.Record)
	}
	setCellCount(pg, len(entries))
}

func tableLeafSize(entries []tableEntry) int {
	s := 0
	for _, e := range entries {
		s += VarintLen(e.Rowid) + VarintLen(uint64(len(e.Record))) + len(e.Record)
	}
	return s
}

type tableInternal struct {
	keys     []uint64 // separator keys: children[i] holds rowid < keys[i]
	children []storage.PageNumber
}

func readTableInternal(pg *storage.Page) tableInternal {
	n := cellCount(pg)
	off := dataOffset(pg)
	node := tableInternal{keys: make([]uint64, 0, n), children: make([]storage.PageNumber, 0, n+1)}
	for i := 0; i < n; i++ {
		child := binary.BigEndian.Uint32(pg.Data[off:])
		off += 4
		key, w := GetVarint(pg.Data[off:])
		off += w
		node.children = append(node.children, storage.PageNumber(child))
		node.keys = append(node.keys, key)
	}
	node.children = append(node.children, rightmostChild(pg))
	return node
}

func writeTableInternal(pg *storage.Page, node tableInternal) {
	initPage(pg, typeInteriorTable)
	off := dataOffset(pg)
	for i, key := range node.keys {
		binary.BigEndian.PutUint32(pg.Data[off:], uint32(node.children[i]))
		off += 4
		var buf [9]byte
		n := PutVarint(buf[:], key)
		off += copy(pg.Data[off:], buf[:n])
	}
	setCellCount(pg, len(node.keys))
	setRightmostChild(pg, node.children[len(node.children)-1])
}

func tableInternalSize(node tableInternal) int {
	s := 0
	for _, k := range node.keys {
		s += 4 + VarintLen(k)
	}
	return s
}

func (t *Table) findLeaf(rowid uint64) (*storage.Page, error) {
	no := t.RootPage
	for {
		pg, err := t.src.ReadPage(no)
		if err != nil {
			return nil, err
		}
		if isLeaf(pg) {
			return pg, nil
		}
		node := readTableInternal(pg)
		idx := sort.Search(len(node.keys), func(i int) bool { return node.keys[i] > rowid })
		no = node.children[idx]
	}
}

func (t *Table) findLeftmostLeaf() (*storage.Page, error) {
	no := t.RootPage
	for {
		pg, err := t.src.ReadPage(no)
		if err != nil {
			return nil, err
		}
		if isLeaf(pg) {
			return pg, nil
		}
		node := readTableInternal(pg)
		no = node.children[0]
	}
}

// Get returns the record stored for rowid, if any.
func (t *Table) Get(rowid uint64) ([]byte, bool, error) {
	pg, err := t.findLeaf(rowid)
	if err != nil {
		return nil, false, err
	}
	for _, e := range readTableLeafEntries(pg) {
		if e.Rowid == rowid {
			rec, err := decompressRecord(e.Record)
			if err != nil {
				return nil, false, err
			}
			return rec, true, nil
		}
	}
	return nil, false, nil
}

// Scan returns a fresh range-scan cursor starting at the leftmost leaf.
func (t *Table) Scan() (*TableCursor, error) {
	pg, err := t.findLeftmostLeaf()
	if err != nil {
		return nil, err
	}
	return &TableCursor{t: t, page: pg, entries: readTableLeafEntries(pg), idx: 0}, nil
}

// TableCursor walks a table tree's leaves in rowid order.
type TableCursor struct {
	t       *Table
	page    *storage.Page
	entries []tableEntry
	idx     int
}

// Next advances the cursor, returning false once exhausted.
func (c *TableCursor) Next() (uint64, []byte, bool, error) {
	for c.idx >= len(c.entries) {
		next := nextLeaf(c.page)
		if next == 0 {
			return 0, nil, false, nil
		}
		pg, err := c.t.src.ReadPage(next)
		if err != nil {
			return 0, nil, false, err
		}
		c.page = pg
		c.entries = readTableLeafEntries(pg)
		c.idx = 0
	}
	e := c.entries[c.idx]
	c.idx++
	rec, err := decompressRecord(e.Record)
	if err != nil {
		return 0, nil, false, err
	}
	return e.Rowid, rec, true, nil
}

type tableSplit struct {
	key      uint64
	newPage  storage.PageNumber
}

// Insert writes rowid -> record, splitting pages bottom-up as needed.
func (t *Table) Insert(rowid uint64, record []byte) error {
	split, err := t.insertRecursive(t.RootPage, rowid, compressRecord(record))
	if err != nil {
		return err
	}
	if split != nil {
		newRoot, err := t.src.AllocatePage()
		if err != nil {
			return err
		}
		pg, err := t.src.ReadPage(newRoot)
		if err != nil {
			return err
		}
		writeTableInternal(pg, tableInternal{
			keys:     []uint64{split.key},
			children: []storage.PageNumber{t.RootPage, split.newPage},
		})
		if err := t.src.WritePage(pg); err != nil {
			return err
		}
		t.RootPage = newRoot
	}
	return nil
}

func (t *Table) insertRecursive(no storage.PageNumber, rowid uint64, record []byte) (*tableSplit, error) {
	pg, err := t.src.ReadPage(no)
	if err != nil {
		return nil, err
	}
	if isLeaf(pg) {
		return t.insertIntoLeaf(pg, rowid, record)
	}
	node := readTableInternal(pg)
	idx := sort.Search(len(node.keys), func(i int) bool { return node.keys[i] > rowid })
	childSplit, err := t.insertRecursive(node.children[idx], rowid, record)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}
	return t.insertIntoInternal(pg, node, idx, childSplit)
}

func (t *Table) insertIntoLeaf(pg *storage.Page, rowid uint64, record []byte) (*tableSplit, error) {
	entries := readTableLeafEntries(pg)
	next := nextLeaf(pg)

	pos := sort.Search(len(entries), func(i int) bool { return entries[i].Rowid >= rowid })
	if pos < len(entries) && entries[pos].Rowid == rowid {
		entries[pos] = tableEntry{Rowid: rowid, Record: record}
		writeTableLeaf(pg, entries, next)
		return nil, t.src.WritePage(pg)
	}
	entries = append(entries, tableEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = tableEntry{Rowid: rowid, Record: record}

	if leafHeaderSize+tableLeafSize(entries) <= len(pg.Data) {
		writeTableLeaf(pg, entries, next)
		return nil, t.src.WritePage(pg)
	}

	mid := len(entries) / 2
	left := append([]tableEntry{}, entries[:mid]...)
	right := append([]tableEntry{}, entries[mid:]...)

	newNo, err := t.src.AllocatePage()
	if err != nil {
		return nil, err
	}
	newPg, err := t.src.ReadPage(newNo)
	if err != nil {
		return nil, err
	}
	writeTableLeaf(newPg, right, next)
	if err := t.src.WritePage(newPg); err != nil {
		return nil, err
	}
	writeTableLeaf(pg, left, newNo)
	if err := t.src.WritePage(pg); err != nil {
		return nil, err
	}
	return &tableSplit{key: right[0].Rowid, newPage: newNo}, nil
}

func (t *Table) insertIntoInternal(pg *storage.Page, node tableInternal, idx int, split *tableSplit) (*tableSplit, error) {
	node.keys = append(node.keys, 0)
	copy(node.keys[idx+1:], node.keys[idx:])
	node.keys[idx] = split.key

	node.children = append(node.children, 0)
	copy(node.children[idx+2:], node.children[idx+1:])
	node.children[idx+1] = split.newPage

	if interiorHeaderSize+tableInternalSize(node) <= len(pg.Data) {
		writeTableInternal(pg, node)
		return nil, t.src.WritePage(pg)
	}

	mid := len(node.keys) / 2
	pushUp := node.keys[mid]
	left := tableInternal{keys: append([]uint64{}, node.keys[:mid]...), children: append([]storage.PageNumber{}, node.children[:mid+1]...)}
	right := tableInternal{keys: append([]uint64{}, node.keys[mid+1:]...), children: append([]storage.PageNumber{}, node.children[mid+1:]...)}

	newNo, err := t.src.AllocatePage()
	if err != nil {
		return nil, err
	}
	newPg, err := t.src.ReadPage(newNo)
	if err != nil {
		return nil, err
	}
	writeTableInternal(newPg, right)
	if err := t.src.WritePage(newPg); err != nil {
		return nil, err
	}
	writeTableInternal(pg, left)
	if err := t.src.WritePage(pg); err != nil {
		return nil, err
	}
	return &tableSplit{key: pushUp, newPage: newNo}, nil
}

// Delete removes rowid. No rebalancing: an emptied leaf stays in the tree
// and is not reclaimed, matching the teacher's index.BTree.Remove.
func (t *Table) Delete(rowid uint64) error {
	pg, err := t.findLeaf(rowid)
	if err != nil {
		return err
	}
	entries := readTableLeafEntries(pg)
	next := nextLeaf(pg)
	for i, e := range entries {
		if e.Rowid == rowid {
			entries = append(entries[:i], entries[i+1:]...)
			writeTableLeaf(pg, entries, next)
			return t.src.WritePage(pg)
		}
	}
	return fmt.Errorf("btree: rowid %d not found", rowid)
}
