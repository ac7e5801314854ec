// Package storage implements the pager and page cache (spec C2/C4): the
// versioned page buffer and the atomic unit the upper layers (mvcc, btree)
// see when they resolve a page read or stage a page write. Modeled on the
// teacher's storage.Pager/Page/lruCache, generalized from a fixed 4KB
// document-page format to the SQLite-compatible page sizes and header
// layout spec.md §6 mandates.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MinPageSize and MaxPageSize bound the power-of-two page size fixed per
// database file (spec §3.1).
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// PageNumber is a 1-based page address; 0 is never a valid page (spec I1-adjacent
// invariant in §3.1: "page 0 is not a valid address").
type PageNumber uint32

// ValidPageSize reports whether n is a legal page size.
func ValidPageSize(n int) bool {
	if n < MinPageSize || n > MaxPageSize {
		return false
	}
	return n&(n-1) == 0
}

// Page is a raw page buffer. Its length always equals the database's fixed
// page size. Callers (btree, mvcc) interpret the bytes per the B-tree page
// header or the file header layouts in spec.md §6.
type Page struct {
	No   PageNumber
	Data []byte
}

// NewPage allocates a zeroed page of the given size.
func NewPage(no PageNumber, size int) *Page {
	return &Page{No: no, Data: make([]byte, size)}
}

// Clone returns a deep copy, used by the MVCC write path (spec §4.4 write
// path step (b): "clone to create a new version tagged with this
// transaction's id").
func (p *Page) Clone() *Page {
	cp := &Page{No: p.No, Data: make([]byte, len(p.Data))}
	copy(cp.Data, p.Data)
	return cp
}

// FileHeader is the first 100 bytes of page 1, laid out exactly per spec
// §6's big-endian database file header table.
type FileHeader struct {
	PageSize           uint16
	WriteVersion       byte
	ReadVersion        byte
	ReservedBytes      byte
	MaxPayloadFraction byte
	MinPayloadFraction byte
	LeafPayloadFraction byte
	ChangeCounter      uint32
	SizeInPages        uint32
	FreelistTrunk      uint32
	FreelistPages      uint32
	SchemaCookie       uint32
	SchemaFormat       uint32
	DefaultCacheSize   uint32
	LargestRootPage    uint32
	TextEncoding       uint32
	UserVersion        uint32
	IncrementalVacuum  uint32
	ApplicationID      uint32
	VersionValidFor    uint32
	WriterVersion      uint32
}

var fileMagic = [16]byte{'S', 'Q', 'L', 'i', 't', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '3', 0}

const FileHeaderSize = 100

// ErrBadMagic is returned when a database file does not start with the
// SQLite-compatible magic string.
var ErrBadMagic = errors.New("storage: bad file header magic")

// EncodePageSize maps a real page size to its on-disk encoding: 65536 is
// stored as 1, per spec.md §6's footnote on the page-size field.
func EncodePageSize(size int) uint16 {
	if size == 65536 {
		return 1
	}
	return uint16(size)
}

// DecodePageSize is the inverse of EncodePageSize.
func DecodePageSize(encoded uint16) int {
	if encoded == 1 {
		return 65536
	}
	return int(encoded)
}

// Encode writes the header into the first 100 bytes of buf (which must be
// at least one full page).
func (h *FileHeader) Encode(buf []byte) {
	copy(buf[0:16], fileMagic[:])
	binary.BigEndian.PutUint16(buf[16:18], h.PageSize)
	buf[18] = h.WriteVersion
	buf[19] = h.ReadVersion
	buf[20] = h.ReservedBytes
	buf[21] = 64
	buf[22] = 32
	buf[23] = 32
	binary.BigEndian.PutUint32(buf[24:28], h.ChangeCounter)
	binary.BigEndian.PutUint32(buf[28:32], h.SizeInPages)
	binary.BigEndian.PutUint32(buf[32:36], h.FreelistTrunk)
	binary.BigEndian.PutUint32(buf[36:40], h.FreelistPages)
	binary.BigEndian.PutUint32(buf[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(buf[44:48], 4)
	binary.BigEndian.PutUint32(buf[48:52], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(buf[52:56], h.LargestRootPage)
	binary.BigEndian.PutUint32(buf[56:60], h.TextEncoding)
	binary.BigEndian.PutUint32(buf[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(buf[64:68], h.IncrementalVacuum)
	binary.BigEndian.PutUint32(buf[68:72], h.ApplicationID)
	binary.BigEndian.PutUint32(buf[92:96], h.VersionValidFor)
	binary.BigEndian.PutUint32(buf[96:100], h.WriterVersion)
}

// Decode parses a FileHeader from the first 100 bytes of buf.
func DecodeFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, fmt.Errorf("storage: header buffer too short")
	}
	for i := range fileMagic {
		if buf[i] != fileMagic[i] {
			return nil, ErrBadMagic
		}
	}
	h := &FileHeader{
		PageSize:            binary.BigEndian.Uint16(buf[16:18]),
		WriteVersion:        buf[18],
		ReadVersion:         buf[19],
		ReservedBytes:       buf[20],
		MaxPayloadFraction:  buf[21],
		MinPayloadFraction:  buf[22],
		LeafPayloadFraction: buf[23],
		ChangeCounter:       binary.BigEndian.Uint32(buf[24:28]),
		SizeInPages:         binary.BigEndian.Uint32(buf[28:32]),
		FreelistTrunk:       binary.BigEndian.Uint32(buf[32:36]),
		FreelistPages:       binary.BigEndian.Uint32(buf[36:40]),
		SchemaCookie:        binary.BigEndian.Uint32(buf[40:44]),
		SchemaFormat:        binary.BigEndian.Uint32(buf[44:48]),
		DefaultCacheSize:    binary.BigEndian.Uint32(buf[48:52]),
		LargestRootPage:     binary.BigEndian.Uint32(buf[52:56]),
		TextEncoding:        binary.BigEndian.Uint32(buf[56:60]),
		UserVersion:         binary.BigEndian.Uint32(buf[60:64]),
		IncrementalVacuum:   binary.BigEndian.Uint32(buf[64:68]),
		ApplicationID:       binary.BigEndian.Uint32(buf[68:72]),
		VersionValidFor:     binary.BigEndian.Uint32(buf[92:96]),
		WriterVersion:       binary.BigEndian.Uint32(buf[96:100]),
	}
	return h, nil
}
