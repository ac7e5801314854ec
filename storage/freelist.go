package storage

import "encoding/binary"

// The free list is a linked chain of trunk pages (spec §4.4's "trunk-leaf
// free list rooted at header offset 32"), the same shape SQLite's own
// pager uses: each trunk page holds a pointer to the next trunk and an
// array of leaf page numbers it owns. A page is "free" either because it
// is listed as a leaf in some trunk, or because it is itself a trunk.
//
//	bytes 0-3:  next trunk page number (0 = end of chain)
//	bytes 4-7:  number of leaf entries that follow
//	bytes 8..:  that many big-endian uint32 leaf page numbers
const trunkHeaderSize = 8

func trunkMaxLeaves(pageSize int) int {
	return (pageSize - trunkHeaderSize) / 4
}

type trunkPage struct {
	next   uint32
	leaves []uint32
}

func decodeTrunk(data []byte) trunkPage {
	next := binary.BigEndian.Uint32(data[0:4])
	n := binary.BigEndian.Uint32(data[4:8])
	leaves := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		off := trunkHeaderSize + int(i)*4
		if off+4 > len(data) {
			break
		}
		leaves = append(leaves, binary.BigEndian.Uint32(data[off:off+4]))
	}
	return trunkPage{next: next, leaves: leaves}
}

func (t trunkPage) encode(pageSize int) []byte {
	buf := make([]byte, pageSize)
	binary.BigEndian.PutUint32(buf[0:4], t.next)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(t.leaves)))
	for i, pn := range t.leaves {
		off := trunkHeaderSize + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], pn)
	}
	return buf
}

// allocateFromFreelistLocked pops one page off the free list, returning
// (0, false) if the list is empty. Caller holds p.mu.
func (p *Pager) allocateFromFreelistLocked() (PageNumber, bool, error) {
	if p.header.FreelistTrunk == 0 {
		return 0, false, nil
	}
	trunkNo := PageNumber(p.header.FreelistTrunk)
	pg, err := p.readBaselineLocked(trunkNo)
	if err != nil {
		return 0, false, err
	}
	t := decodeTrunk(pg.Data)

	if len(t.leaves) > 0 {
		// Pop the last leaf; the trunk itself stays in the chain.
		last := len(t.leaves) - 1
		freed := t.leaves[last]
		t.leaves = t.leaves[:last]
		p.header.FreelistPages--
		if err := p.writeBaselineLocked(&Page{No: trunkNo, Data: t.encode(p.pageSize)}); err != nil {
			return 0, false, err
		}
		if err := p.flushHeaderLocked(); err != nil {
			return 0, false, err
		}
		return PageNumber(freed), true, nil
	}

	// This trunk is empty; reuse the trunk page itself and advance the
	// chain to whatever it pointed at next.
	p.header.FreelistTrunk = t.next
	p.header.FreelistPages--
	if err := p.flushHeaderLocked(); err != nil {
		return 0, false, err
	}
	return trunkNo, true, nil
}

// freePageLocked returns no to the free list, appending to the current
// trunk's leaf array when there's room or starting a new trunk with no
// itself when there isn't (or when the chain is empty). Caller holds p.mu.
func (p *Pager) freePageLocked(no PageNumber) error {
	max := trunkMaxLeaves(p.pageSize)

	if p.header.FreelistTrunk != 0 {
		trunkNo := PageNumber(p.header.FreelistTrunk)
		pg, err := p.readBaselineLocked(trunkNo)
		if err != nil {
			return err
		}
		t := decodeTrunk(pg.Data)
		if len(t.leaves) < max {
			t.leaves = append(t.leaves, uint32(no))
			if err := p.writeBaselineLocked(&Page{No: trunkNo, Data: t.encode(p.pageSize)}); err != nil {
				return err
			}
			p.header.FreelistPages++
			return p.flushHeaderLocked()
		}
	}

	// Current trunk is full or doesn't exist: no becomes the new trunk
	// head, pointing at the old one.
	newTrunk := trunkPage{next: p.header.FreelistTrunk}
	if err := p.writeBaselineLocked(&Page{No: no, Data: newTrunk.encode(p.pageSize)}); err != nil {
		return err
	}
	p.header.FreelistTrunk = uint32(no)
	p.header.FreelistPages++
	return p.flushHeaderLocked()
}
