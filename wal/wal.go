// Package wal implements the write-ahead log (spec C3): an append-only frame
// log, checksum-chained, indexed by (page_no, txn_id) -> frame offset, with
// a forward-error-corrected sidecar for commit groups. Modeled on the
// teacher's storage/wal.go (LSN-ordered record log with CRC32 + fsync-on-
// commit), generalized from a single-writer document log to the
// SQLite-compatible frame format and checksum chain spec.md §4.3/§6
// mandate.
package wal

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/frankensqlite/frankensqlite/vfs"
)

const (
	headerSize      = 32
	frameHeaderSize = 24
	formatVersion   = 3007000
	magicBE         = 0x377F0682
)

// Header is the 32-byte WAL file header (spec §4.3/§6).
type Header struct {
	Magic         uint32
	FormatVersion uint32
	PageSize      uint32
	CheckpointSeq uint32
	Salt1         uint32
	Salt2         uint32
	Checksum      [2]uint32
}

func (h *Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.FormatVersion)
	binary.BigEndian.PutUint32(buf[8:12], h.PageSize)
	binary.BigEndian.PutUint32(buf[12:16], h.CheckpointSeq)
	binary.BigEndian.PutUint32(buf[16:20], h.Salt1)
	binary.BigEndian.PutUint32(buf[20:24], h.Salt2)
	binary.BigEndian.PutUint32(buf[24:28], h.Checksum[0])
	binary.BigEndian.PutUint32(buf[28:32], h.Checksum[1])
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("wal: header too short")
	}
	h := &Header{
		Magic:         binary.BigEndian.Uint32(buf[0:4]),
		FormatVersion: binary.BigEndian.Uint32(buf[4:8]),
		PageSize:      binary.BigEndian.Uint32(buf[8:12]),
		CheckpointSeq: binary.BigEndian.Uint32(buf[12:16]),
		Salt1:         binary.BigEndian.Uint32(buf[16:20]),
		Salt2:         binary.BigEndian.Uint32(buf[20:24]),
	}
	h.Checksum[0] = binary.BigEndian.Uint32(buf[24:28])
	h.Checksum[1] = binary.BigEndian.Uint32(buf[28:32])
	if h.Magic != magicBE {
		return nil, fmt.Errorf("wal: bad magic")
	}
	return h, nil
}

// FrameHeader is the 24-byte per-frame header (spec §4.3/§6).
type FrameHeader struct {
	PageNo          uint32
	SizeAfterCommit uint32 // 0 unless this frame closes a commit group
	Salt1, Salt2    uint32
	Checksum        [2]uint32
}

func (fh *FrameHeader) encode() []byte {
	buf := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], fh.PageNo)
	binary.BigEndian.PutUint32(buf[4:8], fh.SizeAfterCommit)
	binary.BigEndian.PutUint32(buf[8:12], fh.Salt1)
	binary.BigEndian.PutUint32(buf[12:16], fh.Salt2)
	binary.BigEndian.PutUint32(buf[16:20], fh.Checksum[0])
	binary.BigEndian.PutUint32(buf[20:24], fh.Checksum[1])
	return buf
}

func decodeFrameHeader(buf []byte) *FrameHeader {
	fh := &FrameHeader{
		PageNo:          binary.BigEndian.Uint32(buf[0:4]),
		SizeAfterCommit: binary.BigEndian.Uint32(buf[4:8]),
		Salt1:           binary.BigEndian.Uint32(buf[8:12]),
		Salt2:           binary.BigEndian.Uint32(buf[12:16]),
	}
	fh.Checksum[0] = binary.BigEndian.Uint32(buf[16:20])
	fh.Checksum[1] = binary.BigEndian.Uint32(buf[20:24])
	return fh
}

// checksum chains s0/s1 Fibonacci-style over big-endian 32-bit words, the
// SQLite-compatible algorithm spec §6 requires for wire compatibility.
func checksum(data []byte, s0, s1 uint32) (uint32, uint32) {
	for i := 0; i+8 <= len(data); i += 8 {
		w0 := binary.BigEndian.Uint32(data[i : i+4])
		w1 := binary.BigEndian.Uint32(data[i+4 : i+8])
		s0 += w0 + s1
		s1 += w1 + s0
	}
	return s0, s1
}

// Frame is one logged (page, data) pair plus its position and owning
// transaction, as returned by index lookups and recovery scans.
type Frame struct {
	Offset  int64
	PageNo  uint32
	TxnID   uint64
	Data    []byte
	Commit  bool
	DBSize  uint32
}

// WAL is the append-only frame log for one database file.
type WAL struct {
	mu   sync.Mutex
	vfs  vfs.VFS
	file vfs.File
	path string

	header   Header
	pageSize int

	// index maps (page_no, txn_id) -> frame offset; the newest write wins on
	// insert since frames are appended in commit order (spec §4.3 "Append
	// protocol").
	index map[indexKey]int64

	frames []Frame // in-memory log mirror, used by CommittedUpTo/checkpoint/recovery

	tail int64 // next append offset

	// groupMembers/groupRaw accumulate the current, not-yet-committed
	// group's frames so persistGroup can build its parity descriptor the
	// moment the commit frame lands (spec §4.3 "each commit group ...
	// generates a bounded number of ... repair symbols").
	groupMembers []memberRef
	groupRaw     [][]byte

	fecGroups []groupDescriptor
}

const fecOpenFlags = vfs.OpenReadWrite | vfs.OpenCreate

type indexKey struct {
	pageNo uint32
	txnID  uint64
}

// Open opens or creates the WAL sidecar file for dbPath and replays its
// frames into the in-memory index (spec §4.3 "Recovery state machine").
func Open(v vfs.VFS, dbPath string, pageSize int) (*WAL, error) {
	walPath := dbPath + "-wal"
	f, err := v.Open(walPath, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	w := &WAL{
		vfs:      v,
		file:     f,
		path:     walPath,
		pageSize: pageSize,
		index:    make(map[indexKey]int64),
	}
	size, err := f.FileSize()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size == 0 {
		w.header = Header{Magic: magicBE, FormatVersion: formatVersion, PageSize: uint32(pageSize), Salt1: 1, Salt2: 1}
		if _, err := f.WriteAt(w.header.encode(), 0); err != nil {
			f.Close()
			return nil, err
		}
		w.tail = headerSize
		return w, nil
	}
	if err := w.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the WAL sidecar file path.
func (w *WAL) Path() string { return w.path }

// Append writes one frame (page_no, data) owned by txnID. commit marks this
// as the last frame of a commit group, carrying dbSizeAfterCommit per spec
// §4.3. The WAL append mutex is held only for the checksum + write + index
// update, per spec §4.3's "held only for the memcpy + write + index update".
func (w *WAL) Append(pageNo uint32, txnID uint64, data []byte, commit bool, dbSizeAfterCommit uint32) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s0, s1 := w.header.Salt1, w.header.Salt2
	if len(w.frames) > 0 {
		s0, s1 = w.chainedChecksum()
	}

	fh := &FrameHeader{PageNo: pageNo, Salt1: w.header.Salt1, Salt2: w.header.Salt2}
	if commit {
		fh.SizeAfterCommit = dbSizeAfterCommit
	}
	s0, s1 = checksum(fh.encode()[:16], s0, s1)
	s0, s1 = checksum(data, s0, s1)
	fh.Checksum = [2]uint32{s0, s1}

	buf := make([]byte, frameHeaderSize+len(data))
	copy(buf, fh.encode())
	copy(buf[frameHeaderSize:], data)

	off := w.tail
	if _, err := w.file.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	w.tail += int64(len(buf))

	frame := Frame{Offset: off, PageNo: pageNo, TxnID: txnID, Data: data, Commit: commit, DBSize: dbSizeAfterCommit}
	w.frames = append(w.frames, frame)
	w.index[indexKey{pageNo, txnID}] = off

	w.groupMembers = append(w.groupMembers, memberRef{offset: off, pageNo: pageNo, length: len(buf)})
	w.groupRaw = append(w.groupRaw, buf)
	if commit {
		g := buildGroupDescriptor(w.groupMembers, w.groupRaw, DefaultRaptorQOverheadPercent)
		w.persistGroup(g)
		w.groupMembers = nil
		w.groupRaw = nil
	}

	return off, nil
}

// chainedChecksum returns the running checksum carried forward from the
// last appended frame (spec §4.3: "each frame's checksum incorporates the
// previous frame's").
func (w *WAL) chainedChecksum() (uint32, uint32) {
	last := w.frames[len(w.frames)-1]
	off := last.Offset
	hdrBuf := make([]byte, frameHeaderSize)
	w.file.ReadAt(hdrBuf, off)
	fh := decodeFrameHeader(hdrBuf)
	return fh.Checksum[0], fh.Checksum[1]
}

// Sync is a durability barrier over the WAL file (spec §4.1 "sync ...
// durability barrier").
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync(vfs.SyncFull)
}

// Lookup returns the newest frame for pageNo visible under isVisible
// (supplied by mvcc, which knows the requesting snapshot), per spec §4.3
// "Read-from-WAL".
func (w *WAL) Lookup(pageNo uint32, isVisible func(txnID uint64) bool) (*Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var best *Frame
	for i := len(w.frames) - 1; i >= 0; i-- {
		f := &w.frames[i]
		if f.PageNo != pageNo {
			continue
		}
		if !isVisible(f.TxnID) {
			continue
		}
		best = f
		break
	}
	return best, best != nil
}

// CommittedFrames returns every frame belonging to a committed group, in
// append order, for checkpoint/recovery replay.
func (w *WAL) CommittedFrames() []Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Frame
	var pending []Frame
	for _, f := range w.frames {
		pending = append(pending, f)
		if f.Commit {
			out = append(out, pending...)
			pending = nil
		}
	}
	return out
}

// FrameCount reports the number of frames currently in the log.
func (w *WAL) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// LatestCommittedTxnID returns the highest txn id carried by any frame
// currently in the log, or 0 if the log is empty or holds only frames
// replayed from before a restart (recovery never recovers the original
// txn id, see recover(); those frames use the TxnID-0 "visible to
// everyone" sentinel, same as a file-resident baseline page). Used by
// checkpoint to decide whether any reader is still pinned behind the
// newest commit.
func (w *WAL) LatestCommittedTxnID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var max uint64
	for _, f := range w.frames {
		if f.TxnID > max {
			max = f.TxnID
		}
	}
	return max
}

// Reset truncates the WAL back to just the header, used by checkpoint modes
// Restart/Truncate (spec §4.3).
func (w *WAL) Reset(truncateFile bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.header.Salt1++
	w.header.CheckpointSeq++
	if _, err := w.file.WriteAt(w.header.encode(), 0); err != nil {
		return err
	}
	if truncateFile {
		if err := w.file.Truncate(headerSize); err != nil {
			return err
		}
	}
	w.tail = headerSize
	w.frames = nil
	w.index = make(map[indexKey]int64)
	return w.file.Sync(vfs.SyncFull)
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
