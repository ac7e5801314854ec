package vdbe

import (
	"github.com/frankensqlite/frankensqlite/btree"
)

// Cursor is one entry in the VM's cursor array (spec §4.7 "maintained as an
// array indexed by cursor number"). A cursor wraps either a table B-tree
// (rowid-keyed) or an index B-tree (value-keyed); never both.
type Cursor struct {
	def   CursorDef
	table *btree.Table
	index *btree.Index

	tableCur *btree.TableCursor
	rowid    uint64
	record   []byte
	valid    bool

	idxRowids []uint64
	idxPos    int
}

func openTableCursor(src btree.PageSource, root uint32) (*Cursor, error) {
	t := btree.OpenTable(src, rootAsPageNumber(root))
	return &Cursor{table: t}, nil
}

func openIndexCursor(src btree.PageSource, root uint32) (*Cursor, error) {
	ix := btree.OpenIndex(src, rootAsPageNumber(root))
	return &Cursor{index: ix}, nil
}

func (c *Cursor) rewind() (bool, error) {
	if c.index != nil {
		// Index cursors are only used for maintenance (IdxInsert/IdxDelete)
		// in this VM's scoped opcode set; scanning a secondary index
		// directly is not wired by the codegen (see DESIGN.md).
		return false, nil
	}
	cur, err := c.table.Scan()
	if err != nil {
		return false, err
	}
	c.tableCur = cur
	return c.advance()
}

func (c *Cursor) advance() (bool, error) {
	rowid, record, ok, err := c.tableCur.Next()
	if err != nil {
		return false, err
	}
	if !ok {
		c.valid = false
		return false, nil
	}
	c.rowid = rowid
	c.record = record
	c.valid = true
	return true, nil
}

func (c *Cursor) columns() ([]btree.Value, error) {
	return btree.DecodeRecord(c.record)
}

// nextRowid scans the table once to find the current maximum rowid and
// returns max+1. O(n) in table size: acceptable at this project's scale: a
// real engine would cache the high-water mark per table instead.
func (c *Cursor) nextRowid() (uint64, error) {
	cur, err := c.table.Scan()
	if err != nil {
		return 0, err
	}
	var max uint64
	for {
		rowid, _, ok, err := cur.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if rowid > max {
			max = rowid
		}
	}
	return max + 1, nil
}
