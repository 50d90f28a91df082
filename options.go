package docstore

import (
	"log/slog"
	"time"

	"github.com/hupe1980/docstore/codec"
	"github.com/hupe1980/docstore/internal/engine"
	"github.com/hupe1980/docstore/internal/wal"
)

// IndexMaintenance controls how updates maintain secondary indexes.
type IndexMaintenance = engine.IndexMaintenance

const (
	// IndexMaintenanceChanged touches a secondary entry only when its key
	// changed or the document moved. This is the default.
	IndexMaintenanceChanged = engine.IndexMaintenanceChanged
	// IndexMaintenanceAlways removes and reinserts every secondary entry on
	// update.
	IndexMaintenanceAlways = engine.IndexMaintenanceAlways
)

// Durability controls when the write-ahead log reaches stable storage.
type Durability int

const (
	// DurabilitySync fsyncs the log before a commit is acknowledged.
	DurabilitySync Durability = iota
	// DurabilityAsync leaves flushing to the OS. A crash may lose the latest
	// commits but never exposes a partial one.
	DurabilityAsync
)

type options struct {
	codec            codec.Codec
	logger           *Logger
	metrics          MetricsObserver
	pageSize         int
	maxPages         uint32
	cacheSize        int64
	memoryLimit      int64
	maxDirtyPages    int
	lockTimeout      time.Duration
	maxRetries       int
	retryInitial     time.Duration
	retryMax         time.Duration
	indexMaintenance IndexMaintenance
	durability       Durability
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the document codec of a new database. An existing
// database is always reopened with the codec it was created with.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := docstore.NewJSONLogger(slog.LevelInfo)
//	db, _ := docstore.Open(docstore.Local("./data"), docstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsObserver configures an observer for engine events.
//
//	metrics := &docstore.BasicMetricsObserver{}
//	db, _ := docstore.Open(docstore.InMemory(), docstore.WithMetricsObserver(metrics))
//	// ... use db ...
//	fmt.Println(metrics.Commits.Load(), metrics.AvgCommitLatency())
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPageSize sets the page size of a new database. It is ignored when an
// existing database is opened.
func WithPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithMaxPages caps the number of pages the database may allocate. Writes
// beyond the cap fail with ErrStorageExhausted. Zero means no limit.
func WithMaxPages(n uint32) Option {
	return func(o *options) {
		o.maxPages = n
	}
}

// WithCacheSize sets the size of the committed page cache in bytes.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheSize = bytes
	}
}

// WithMemoryLimit bounds the memory held by uncommitted pages. Transactions
// that hit the limit move their pages to the write-ahead log at the next
// safepoint.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithMaxDirtyPages sets how many uncommitted pages a transaction keeps in
// memory before a safepoint moves them to the write-ahead log.
func WithMaxDirtyPages(n int) Option {
	return func(o *options) {
		o.maxDirtyPages = n
	}
}

// WithLockTimeout sets how long a write waits for a collection lock before
// failing with ErrTransientConflict.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithRetry configures how often ErrTransientConflict is retried and the
// exponential backoff between attempts.
func WithRetry(maxRetries int, initial, maxInterval time.Duration) Option {
	return func(o *options) {
		o.maxRetries = maxRetries
		o.retryInitial = initial
		o.retryMax = maxInterval
	}
}

// WithIndexMaintenance selects the secondary index update policy.
func WithIndexMaintenance(m IndexMaintenance) Option {
	return func(o *options) {
		o.indexMaintenance = m
	}
}

// WithDurability configures write-ahead log syncing.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:       NoopLogger(),
		maxRetries:   engine.DefaultMaxRetries,
		retryInitial: engine.DefaultRetryInitial,
		retryMax:     engine.DefaultRetryMax,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

// engineOptions translates the options for the engine. Zero values keep the
// engine defaults.
func (o options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
		engine.WithMaxRetries(o.maxRetries),
		engine.WithRetryBackoff(o.retryInitial, o.retryMax),
		engine.WithIndexMaintenance(o.indexMaintenance),
	}
	if o.codec != nil {
		opts = append(opts, engine.WithCodec(o.codec))
	}
	if o.metrics != nil {
		opts = append(opts, engine.WithMetricsObserver(o.metrics))
	}
	if o.pageSize > 0 {
		opts = append(opts, engine.WithPageSize(o.pageSize))
	}
	if o.maxPages > 0 {
		opts = append(opts, engine.WithMaxPages(o.maxPages))
	}
	if o.cacheSize > 0 {
		opts = append(opts, engine.WithCacheSize(o.cacheSize))
	}
	if o.memoryLimit > 0 {
		opts = append(opts, engine.WithMemoryLimit(o.memoryLimit))
	}
	if o.maxDirtyPages > 0 {
		opts = append(opts, engine.WithMaxDirtyPages(o.maxDirtyPages))
	}
	if o.lockTimeout > 0 {
		opts = append(opts, engine.WithLockTimeout(o.lockTimeout))
	}

	walOpts := wal.DefaultOptions()
	if o.durability == DurabilityAsync {
		walOpts.Durability = wal.DurabilityAsync
	}
	return append(opts, engine.WithWALOptions(walOpts))
}
