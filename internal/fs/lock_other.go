//go:build !unix

package fs

import (
	"errors"
	"fmt"
	"os"
)

// Lock takes an exclusive lock on path by creating it exclusively. A stale
// lock file left by a crashed process must be removed by hand.
func Lock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	return &FileLock{f: f, remove: true}, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	name := l.f.Name()
	err := l.f.Close()
	if l.remove {
		if rerr := os.Remove(name); err == nil {
			err = rerr
		}
	}
	l.f = nil
	return err
}
