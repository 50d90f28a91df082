package fs

import (
	"errors"
	"os"
)

// ErrLocked is returned when a lock file is held by another owner.
var ErrLocked = errors.New("directory is locked by another process")

// FileLock is an exclusive lock on a file, used to keep two processes from
// opening the same data directory.
type FileLock struct {
	f      *os.File
	remove bool
}
