package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/docstore/internal/compress"
	"github.com/hupe1980/docstore/internal/fs"
)

// Durability controls the durability guarantees of the WAL.
type Durability int

const (
	// DurabilityAsync relies on OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync calls fsync on every Sync. Slow but safe.
	DurabilitySync
)

const (
	walMagic      = "DOCSTWAL" // 8 bytes
	walVersion    = 1          // 4 bytes
	walHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
)

// Options configures a WAL.
type Options struct {
	Durability Durability
	// Compression is applied to page images.
	Compression compress.Type
}

// DefaultOptions returns fsync-on-commit durability with ZSTD page images.
func DefaultOptions() Options {
	return Options{Durability: DurabilitySync, Compression: compress.ZSTD}
}

// WAL manages the write-ahead log file.
//
// Transactions append page images at safepoints and at commit, followed by a
// commit record. Appends are unbuffered so that ReadAt can serve a page image
// back to its transaction right away.
type WAL struct {
	mu     sync.Mutex
	fs     fs.FileSystem
	file   fs.File
	path   string
	opts   Options
	size   int64
	closed bool
}

// Open opens or creates a WAL at the given path.
func Open(fsys fs.FileSystem, path string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := stat.Size()

	if size == 0 {
		header := make([]byte, walHeaderSize)
		copy(header[0:8], walMagic)
		binary.LittleEndian.PutUint32(header[8:12], uint32(walVersion))
		if _, err := f.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, err
		}
		size = walHeaderSize
	} else {
		if size < walHeaderSize {
			_ = f.Close()
			return nil, fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, walHeaderSize)
		}
		header := make([]byte, walHeaderSize)
		if _, err := f.ReadAt(header, 0); err != nil {
			_ = f.Close()
			return nil, err
		}
		if string(header[0:8]) != walMagic {
			_ = f.Close()
			return nil, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
		}
		if ver := binary.LittleEndian.Uint32(header[8:12]); ver != walVersion {
			_ = f.Close()
			return nil, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, walVersion)
		}
	}

	return &WAL{
		fs:   fsys,
		file: f,
		path: path,
		opts: opts,
		size: size,
	}, nil
}

// Size returns the current size of the WAL in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Empty reports whether the WAL holds no records.
func (w *WAL) Empty() bool {
	return w.Size() == walHeaderSize
}

// Append writes a record and returns the offset it starts at.
// The record is not durable until Sync returns.
func (w *WAL) Append(rec *Record) (int64, error) {
	frame, err := rec.marshal(w.opts.Compression)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}

	offset := w.size
	n, err := w.file.Write(frame)
	w.size += int64(n)
	if err != nil {
		return 0, fmt.Errorf("wal append: %w", err)
	}
	return offset, nil
}

// ReadAt decodes the record starting at offset.
func (w *WAL) ReadAt(offset int64) (*Record, error) {
	w.mu.Lock()
	closed, size := w.closed, w.size
	w.mu.Unlock()

	if closed {
		return nil, os.ErrClosed
	}
	if offset < walHeaderSize || offset >= size {
		return nil, fmt.Errorf("%w: offset %d outside log", ErrShortRead, offset)
	}

	rec, _, err := Decode(io.NewSectionReader(w.file, offset, size-offset))
	return rec, err
}

// Sync ensures all appended records are committed to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.opts.Durability == DurabilityAsync {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync failed: %w", err)
	}
	return nil
}

// Reset discards every record. Callers must ensure that no live transaction
// still references an offset in the log.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.size == walHeaderSize {
		return nil
	}
	if err := w.fs.Truncate(w.path, walHeaderSize); err != nil {
		return fmt.Errorf("wal truncate: %w", err)
	}
	w.size = walHeaderSize
	if w.opts.Durability == DurabilitySync {
		return w.file.Sync()
	}
	return nil
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	return w.file.Close()
}

// Reader returns a reader for replaying the WAL.
// The caller is responsible for closing the returned reader.
func (w *WAL) Reader() (*Reader, error) {
	f, err := w.fs.OpenFile(w.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(walHeaderSize, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Reader{f: f, r: bufio.NewReader(f), offset: walHeaderSize}, nil
}

// Reader iterates over WAL records.
type Reader struct {
	f      fs.File
	r      *bufio.Reader
	offset int64
}

// Next reads the next record and the offset it starts at. Returns io.EOF
// when done. A torn or corrupt tail yields ErrShortRead or ErrInvalidCRC.
func (r *Reader) Next() (*Record, int64, error) {
	start := r.offset
	rec, n, err := Decode(r.r)
	if err != nil {
		return nil, start, err
	}
	r.offset += n
	return rec, start, nil
}

// Offset returns the offset of the first byte not yet consumed.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.f.Close()
}
