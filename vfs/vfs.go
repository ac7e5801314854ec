// Package vfs abstracts platform file I/O behind the capability set the
// pager needs: open, read/write at offset, sync, truncate, advisory locks,
// size. Implementations are variants (unix, windows, in-memory) behind this
// one capability set — no deep inheritance, following the teacher's
// StorageFile split (storage/memfile.go) generalized to the full SQLite
// file-locking protocol.
package vfs

import (
	"errors"
	"io"
	"os"
)

// LockLevel mirrors the SQLite file-locking protocol: None < Shared <
// Reserved < Pending < Exclusive. Lock only ever escalates; Unlock drops to
// the given lower level;
// there is no wait queue inside the VFS — Busy is returned immediately on
// contention and policy is decided by the caller (pager/MVCC layer).
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// SyncMode controls how aggressively File.Sync flushes to stable storage.
type SyncMode int

const (
	SyncOff SyncMode = iota
	SyncNormal
	SyncFull
	SyncExtra
)

// Errors reported by VFS operations. Upper layers decide retry policy; the
// VFS itself never retries.
var (
	ErrNotFound = errors.New("vfs: file not found")
	ErrBusy     = errors.New("vfs: locked by another connection")
	ErrCorrupt  = errors.New("vfs: short read")
)

// OpenFlag controls File creation/access mode.
type OpenFlag int

const (
	OpenReadWrite OpenFlag = 1 << iota
	OpenCreate
	OpenReadOnly
)

// File is a single open database, WAL, or sidecar file.
type File interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync(mode SyncMode) error
	FileSize() (int64, error)
	Lock(level LockLevel) error
	Unlock(level LockLevel) error
	Close() error
}

// VFS opens files by path. A process normally uses one VFS implementation
// for its whole lifetime; tests substitute Memory for determinism.
type VFS interface {
	Open(path string, flags OpenFlag) (File, error)
	Remove(path string) error
	Exists(path string) bool
}

// osFileInfo adapts os.FileInfo-shaped stat results uniformly across
// backends that do and do not have a real os.File underneath.
func sizeFromOS(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
