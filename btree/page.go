package btree

import (
	"encoding/binary"

	"github.com/frankensqlite/frankensqlite/storage"
)

// B-tree page header layout (spec §6 "B-tree page header"): byte 0 is the
// page type tag, bytes 1-2 the first-freeblock offset, 3-4 the cell count,
// 5-6 the cell-content-area start, byte 7 fragmented free bytes, and for
// interior pages bytes 8-11 the rightmost child. This implementation does
// not track freeblocks/fragmentation (no in-place cell deletion reuse — a
// removed cell just shrinks the in-memory entry list and the page is
// rewritten compactly), so those header fields are always zero.
const (
	pageTypeOff        = 0
	firstFreeblockOff  = 1
	cellCountOff       = 3
	cellContentOff     = 5
	fragFreeOff        = 7
	commonHeaderSize   = 8
	rightmostChildOff  = commonHeaderSize // interior pages only, 4 bytes
	nextLeafOff        = commonHeaderSize // leaf pages only, 4 bytes (beyond spec's literal byte layout, needed for O(1) leaf-chain range scans)

	interiorHeaderSize = commonHeaderSize + 4
	leafHeaderSize     = commonHeaderSize + 4
)

const (
	typeInteriorIndex = 0x02
	typeInteriorTable = 0x05
	typeLeafIndex     = 0x0A
	typeLeafTable     = 0x0D
)

func pageType(pg *storage.Page) byte { return pg.Data[pageTypeOff] }

func isLeaf(pg *storage.Page) bool {
	t := pageType(pg)
	return t == typeLeafTable || t == typeLeafIndex
}

func cellCount(pg *storage.Page) int {
	return int(binary.BigEndian.Uint16(pg.Data[cellCountOff:]))
}

func setCellCount(pg *storage.Page, n int) {
	binary.BigEndian.PutUint16(pg.Data[cellCountOff:], uint16(n))
}

func rightmostChild(pg *storage.Page) storage.PageNumber {
	return storage.PageNumber(binary.BigEndian.Uint32(pg.Data[rightmostChildOff:]))
}

func setRightmostChild(pg *storage.Page, no storage.PageNumber) {
	binary.BigEndian.PutUint32(pg.Data[rightmostChildOff:], uint32(no))
}

func nextLeaf(pg *storage.Page) storage.PageNumber {
	return storage.PageNumber(binary.BigEndian.Uint32(pg.Data[nextLeafOff:]))
}

func setNextLeaf(pg *storage.Page, no storage.PageNumber) {
	binary.BigEndian.PutUint32(pg.Data[nextLeafOff:], uint32(no))
}

func initPage(pg *storage.Page, typ byte) {
	for i := range pg.Data[:commonHeaderSize] {
		pg.Data[i] = 0
	}
	pg.Data[pageTypeOff] = typ
	binary.BigEndian.PutUint16(pg.Data[firstFreeblockOff:], 0)
	setCellCount(pg, 0)
	binary.BigEndian.PutUint16(pg.Data[cellContentOff:], uint16(len(pg.Data)))
	pg.Data[fragFreeOff] = 0
	if typ == typeInteriorTable || typ == typeInteriorIndex {
		binary.BigEndian.PutUint32(pg.Data[rightmostChildOff:], 0)
	} else {
		binary.BigEndian.PutUint32(pg.Data[nextLeafOff:], 0)
	}
}

func dataOffset(pg *storage.Page) int {
	if isLeaf(pg) {
		return leafHeaderSize
	}
	return interiorHeaderSize
}
