package engine

import (
	"log/slog"
	"time"

	"github.com/hupe1980/docstore/codec"
	"github.com/hupe1980/docstore/internal/fs"
	"github.com/hupe1980/docstore/internal/resource"
	"github.com/hupe1980/docstore/internal/wal"
)

// IndexMaintenance selects how secondary index entries are maintained when a
// document is updated.
type IndexMaintenance uint8

const (
	// IndexMaintenanceChanged touches a secondary entry only when the indexed
	// value changed or the document moved to a new location. This is the default.
	IndexMaintenanceChanged IndexMaintenance = iota
	// IndexMaintenanceAlways removes and re-inserts every secondary entry on update.
	IndexMaintenanceAlways
)

func (m IndexMaintenance) String() string {
	switch m {
	case IndexMaintenanceChanged:
		return "changed"
	case IndexMaintenanceAlways:
		return "always"
	default:
		return "unknown"
	}
}

// Defaults for the transaction layer.
const (
	DefaultMaxDirtyPages = 1024
	DefaultMaxRetries    = 3
	DefaultRetryInitial  = 10 * time.Millisecond
	DefaultRetryMax      = time.Second
	DefaultMemoryLimit   = 1 << 30
)

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithResourceController sets the resource controller for the engine.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.resourceController = rc
	}
}

// WithMemoryLimit sets the memory limit for dirty and cached pages in bytes.
// If set to 0, memory is unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(e *Engine) {
		e.resourceController = resource.NewController(resource.Config{
			MemoryLimitBytes: bytes,
		})
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(e *Engine) {
		e.metrics = observer
	}
}

// WithFileSystem sets the file system used for the WAL, the directory lock and
// the local page store.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(e *Engine) {
		e.fs = fsys
	}
}

// WithPageSize sets the page size of a new database. Existing databases keep
// the page size they were created with.
func WithPageSize(size int) Option {
	return func(e *Engine) {
		e.pageSize = size
	}
}

// WithMaxPages limits the number of pages the database may allocate.
// Exceeding it fails the transaction with ErrStorageExhausted. 0 is unlimited.
func WithMaxPages(n uint32) Option {
	return func(e *Engine) {
		e.maxPages = n
	}
}

// WithCacheSize sets the size of the committed page cache in bytes.
// A negative size disables the cache.
func WithCacheSize(bytes int64) Option {
	return func(e *Engine) {
		e.cacheBytes = bytes
	}
}

// WithCodec sets the document codec of a new database. An existing database
// is always reopened with the codec it was created with.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithIndexMaintenance sets the secondary index maintenance policy for updates.
func WithIndexMaintenance(m IndexMaintenance) Option {
	return func(e *Engine) {
		e.indexMaintenance = m
	}
}

// WithMaxRetries sets how often RunInTransaction retries after ErrTransientConflict.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithRetryBackoff sets the exponential backoff between retries.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(e *Engine) {
		e.retryInitial = initial
		e.retryMax = maxInterval
	}
}

// WithLockTimeout sets how long a writer waits for a collection lock.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = d
	}
}

// WithMaxDirtyPages sets the number of in-memory dirty pages after which a
// safepoint spills them to the WAL.
func WithMaxDirtyPages(n int) Option {
	return func(e *Engine) {
		e.maxDirtyPages = n
	}
}

// WithWALOptions configures the write-ahead log.
func WithWALOptions(opts wal.Options) Option {
	return func(e *Engine) {
		e.walOptions = opts
	}
}
