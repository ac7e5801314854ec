//go:build !windows && !js && !wasip1

package vfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Unix is the native VFS for POSIX systems. Lock escalation follows the
// SQLite protocol: Shared is a read lock shared by any number of readers,
// Reserved marks intent to write while still allowing other readers,
// Pending blocks new readers from acquiring Shared once a writer is ready to
// commit, Exclusive excludes everyone. Implemented with fcntl byte-range
// locks on a sidecar ".lock" file the way the teacher's filelock_unix.go
// locks the whole database file, generalized to per-level byte ranges.
type Unix struct{}

// NewUnix returns the native POSIX VFS.
func NewUnix() Unix { return Unix{} }

// Native returns the platform's default on-disk VFS.
func Native() VFS { return NewUnix() }

func (Unix) Open(path string, flags OpenFlag) (File, error) {
	osFlags := os.O_RDWR
	if flags&OpenReadOnly != 0 {
		osFlags = os.O_RDONLY
	}
	if flags&OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, osFlags, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: open %s: %w", path, err)
	}
	lockPath := path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vfs: open lock file: %w", err)
	}
	return &unixFile{f: f, lf: lf}, nil
}

func (Unix) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (Unix) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// byte-range offsets within the sidecar lock file used to stage each level,
// following SQLite's PENDING_BYTE/RESERVED_BYTE/SHARED_FIRST convention.
const (
	byteReserved = 0
	bytePending  = 1
	byteShared   = 2
)

type unixFile struct {
	f     *os.File
	lf    *os.File
	level LockLevel
}

func (u *unixFile) ReadAt(p []byte, off int64) (int, error)  { return u.f.ReadAt(p, off) }
func (u *unixFile) WriteAt(p []byte, off int64) (int, error) { return u.f.WriteAt(p, off) }
func (u *unixFile) Truncate(size int64) error                { return u.f.Truncate(size) }

func (u *unixFile) Sync(mode SyncMode) error {
	if mode == SyncOff {
		return nil
	}
	return u.f.Sync()
}

func (u *unixFile) FileSize() (int64, error) { return sizeFromOS(u.f) }

func (u *unixFile) Lock(level LockLevel) error {
	if level <= u.level {
		return nil
	}
	switch level {
	case LockShared:
		// another process holding Pending owns the pending byte
		probe := unix.Flock_t{Type: unix.F_RDLCK, Whence: 0, Start: bytePending, Len: 1}
		if err := unix.FcntlFlock(u.lf.Fd(), unix.F_GETLK, &probe); err != nil || probe.Type != unix.F_UNLCK {
			return ErrBusy
		}
		if err := lockRange(u.lf, byteShared, 1, unix.F_RDLCK); err != nil {
			return ErrBusy
		}
	case LockReserved:
		if err := lockRange(u.lf, byteReserved, 1, unix.F_WRLCK); err != nil {
			return ErrBusy
		}
	case LockPending:
		if err := lockRange(u.lf, bytePending, 1, unix.F_WRLCK); err != nil {
			return ErrBusy
		}
	case LockExclusive:
		if err := lockRange(u.lf, byteShared, 1, unix.F_WRLCK); err != nil {
			return ErrBusy
		}
	}
	u.level = level
	return nil
}

func (u *unixFile) Unlock(level LockLevel) error {
	if level >= u.level {
		u.level = level
		return nil
	}
	if level < LockShared {
		unlockRange(u.lf, byteShared, 1)
	}
	if level < LockPending {
		unlockRange(u.lf, bytePending, 1)
	}
	if level < LockReserved {
		unlockRange(u.lf, byteReserved, 1)
	}
	u.level = level
	return nil
}

func (u *unixFile) Close() error {
	u.Unlock(LockNone)
	u.lf.Close()
	return u.f.Close()
}

func lockRange(f *os.File, start int64, length int64, typ int16) error {
	flock := unix.Flock_t{Type: typ, Whence: 0, Start: start, Len: length}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}

func unlockRange(f *os.File, start int64, length int64) error {
	flock := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: start, Len: length}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}
