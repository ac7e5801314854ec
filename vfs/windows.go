//go:build windows

package vfs

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

// Windows is the native VFS for Windows, using LockFileEx/UnlockFileEx the
// way the teacher's storage/filelock_windows.go does, generalized to the
// level ladder instead of a single whole-file exclusive lock.
type Windows struct{}

func NewWindows() Windows { return Windows{} }

// Native returns the platform's default on-disk VFS.
func Native() VFS { return NewWindows() }

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock = 0x00000002
	lockfileFailImmediate = 0x00000001
)

func (Windows) Open(path string, flags OpenFlag) (File, error) {
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
	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vfs: open lock file: %w", err)
	}
	return &windowsFile{f: f, lf: lf}, nil
}

func (Windows) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (Windows) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type windowsFile struct {
	f     *os.File
	lf    *os.File
	level LockLevel
}

func (w *windowsFile) ReadAt(p []byte, off int64) (int, error)  { return w.f.ReadAt(p, off) }
func (w *windowsFile) WriteAt(p []byte, off int64) (int, error) { return w.f.WriteAt(p, off) }
func (w *windowsFile) Truncate(size int64) error                { return w.f.Truncate(size) }

func (w *windowsFile) Sync(mode SyncMode) error {
	if mode == SyncOff {
		return nil
	}
	return w.f.Sync()
}

func (w *windowsFile) FileSize() (int64, error) { return sizeFromOS(w.f) }

func (w *windowsFile) Lock(level LockLevel) error {
	if level <= w.level {
		return nil
	}
	if level >= LockReserved {
		ol := new(syscall.Overlapped)
		r1, _, _ := procLockFileEx.Call(
			w.lf.Fd(),
			uintptr(lockfileExclusiveLock|lockfileFailImmediate),
			0, 1, 0,
			uintptr(unsafe.Pointer(ol)),
		)
		if r1 == 0 {
			return ErrBusy
		}
	}
	w.level = level
	return nil
}

func (w *windowsFile) Unlock(level LockLevel) error {
	if level < LockReserved && w.level >= LockReserved {
		ol := new(syscall.Overlapped)
		procUnlockFileEx.Call(w.lf.Fd(), 0, 1, 0, uintptr(unsafe.Pointer(ol)))
	}
	w.level = level
	return nil
}

func (w *windowsFile) Close() error {
	w.Unlock(LockNone)
	w.lf.Close()
	return w.f.Close()
}
