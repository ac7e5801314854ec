//go:build js || wasip1

package vfs

import (
	"fmt"
	"os"
)

// JS is the WASM/wasip1 VFS. There is no inter-process advisory locking
// primitive in this environment, so locks are tracked in-process only —
// matching the teacher's storage/filelock_js.go no-op lock.
type JS struct{}

func NewJS() JS { return JS{} }

// Native returns the platform's default on-disk VFS.
func Native() VFS { return NewJS() }

func (JS) Open(path string, flags OpenFlag) (File, error) {
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
	return &jsFile{f: f}, nil
}

func (JS) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (JS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type jsFile struct {
	f     *os.File
	level LockLevel
}

func (j *jsFile) ReadAt(p []byte, off int64) (int, error)  { return j.f.ReadAt(p, off) }
func (j *jsFile) WriteAt(p []byte, off int64) (int, error) { return j.f.WriteAt(p, off) }
func (j *jsFile) Truncate(size int64) error                { return j.f.Truncate(size) }
func (j *jsFile) Sync(SyncMode) error                      { return j.f.Sync() }
func (j *jsFile) FileSize() (int64, error)                 { return sizeFromOS(j.f) }

func (j *jsFile) Lock(level LockLevel) error {
	if level == LockExclusive && j.level != LockNone {
		return ErrBusy
	}
	j.level = level
	return nil
}

func (j *jsFile) Unlock(level LockLevel) error {
	j.level = level
	return nil
}

func (j *jsFile) Close() error { return j.f.Close() }
