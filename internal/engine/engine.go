package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/docstore/blobstore"
	"github.com/hupe1980/docstore/codec"
	"github.com/hupe1980/docstore/internal/fs"
	"github.com/hupe1980/docstore/internal/lock"
	"github.com/hupe1980/docstore/internal/pager"
	"github.com/hupe1980/docstore/internal/resource"
	"github.com/hupe1980/docstore/internal/wal"
)

const (
	lockFileName = "LOCK"
	walFileName  = "docstore.wal"
	pagesDirName = "data"
)

// Stats describes the storage state of an engine.
type Stats struct {
	LSN           uint64
	PageSize      int
	Pages         uint64 // pages ever allocated
	FreePages     uint64
	ReservedPages uint64 // held by in-flight transactions
	Collections   int
	CacheBytes    int64
	CacheHits     int64 // committed page reads served from the cache
	CacheMisses   int64
}

// UsedPages returns the number of pages referenced by committed data.
func (s Stats) UsedPages() uint64 {
	return s.Pages - s.FreePages - s.ReservedPages
}

// Engine is the main entry point for the document store.
//
// Writers are serialized per collection. Readers never block writers while
// they build a transaction, they only wait for a commit that is being
// published.
type Engine struct {
	dir     string
	store   blobstore.BlobStore
	walPath string // empty: no write-ahead log
	dirLock *fs.FileLock

	pager *pager.Pager
	locks *lock.Manager

	// stateMu guards states. Entries are replaced, never mutated, at commit.
	stateMu sync.Mutex
	states  map[string]*collectionState

	codec            codec.Codec
	pageSize         int
	maxPages         uint32
	cacheBytes       int64
	walOptions       wal.Options
	maxDirtyPages    int
	lockTimeout      time.Duration
	maxRetries       int
	retryInitial     time.Duration
	retryMax         time.Duration
	indexMaintenance IndexMaintenance

	metrics            MetricsObserver
	resourceController *resource.Controller
	fs                 fs.FileSystem
	logger             *slog.Logger

	closed atomic.Bool
}

func newEngine(opts []Option) *Engine {
	e := &Engine{
		states:        make(map[string]*collectionState),
		metrics:       &NoopMetricsObserver{},
		fs:            fs.Default,
		walOptions:    wal.DefaultOptions(),
		maxDirtyPages: DefaultMaxDirtyPages,
		lockTimeout:   lock.DefaultTimeout,
		maxRetries:    DefaultMaxRetries,
		retryInitial:  DefaultRetryInitial,
		retryMax:      DefaultRetryMax,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpenLocal opens or creates a database in dir. Pages live in dir/data, the
// write-ahead log in dir/docstore.wal. The directory is locked against other
// processes until Close.
func OpenLocal(dir string, opts ...Option) (*Engine, error) {
	e := newEngine(opts)
	e.dir = dir
	e.walPath = filepath.Join(dir, walFileName)
	e.store = blobstore.NewLocalStore(filepath.Join(dir, pagesDirName), blobstore.WithFileSystem(e.fs))
	return e.init()
}

// OpenMemory opens a database that lives in memory only. There is no
// write-ahead log; everything is lost on Close.
func OpenMemory(opts ...Option) (*Engine, error) {
	e := newEngine(opts)
	e.store = blobstore.NewMemoryStore()
	return e.init()
}

// OpenRemote opens a database on a remote page store (S3, MinIO, ...). The
// write-ahead log lives in walDir on local disk and must survive restarts:
// recovery replays it onto the store after a crash during commit. walDir is
// locked against other processes until Close.
func OpenRemote(store blobstore.BlobStore, walDir string, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil page store", ErrInvalidArgument)
	}
	if walDir == "" {
		return nil, fmt.Errorf("%w: remote database without a wal directory", ErrInvalidArgument)
	}
	e := newEngine(opts)
	e.dir = walDir
	e.walPath = filepath.Join(walDir, walFileName)
	e.store = store
	return e.init()
}

func (e *Engine) init() (_ *Engine, err error) {
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.metrics == nil {
		e.metrics = &NoopMetricsObserver{}
	}
	if e.resourceController == nil {
		e.resourceController = resource.NewController(resource.Config{
			MemoryLimitBytes: DefaultMemoryLimit,
		})
	}
	if e.codec == nil {
		e.codec = codec.Default
	}
	if e.maxDirtyPages <= 0 {
		e.maxDirtyPages = DefaultMaxDirtyPages
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	e.locks = lock.NewManager(e.lockTimeout)

	ctx := context.Background()

	var w *wal.WAL
	defer func() {
		if err == nil {
			return
		}
		if e.pager != nil {
			_ = e.pager.Close()
		} else if w != nil {
			_ = w.Close()
		}
		_ = e.dirLock.Unlock()
	}()

	if e.dir != "" {
		if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		l, err := fs.Lock(filepath.Join(e.dir, lockFileName))
		if err != nil {
			return nil, err
		}
		e.dirLock = l
	}

	if e.walPath != "" {
		w, err = wal.Open(e.fs, e.walPath, e.walOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open wal: %w", err)
		}
	}

	p, err := pager.Open(ctx, e.store, w, pager.Options{
		PageSize:           e.pageSize,
		MaxPages:           e.maxPages,
		CacheBytes:         e.cacheBytes,
		Codec:              e.codec.Name(),
		Logger:             e.logger,
		ResourceController: e.resourceController,
	})
	if err != nil {
		return nil, translate(err)
	}
	e.pager = p

	if name := p.Codec(); name != e.codec.Name() {
		c, ok := codec.ByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown codec %q", ErrCorrupt, name)
		}
		e.logger.Info("using recorded codec", "codec", name, "requested", e.codec.Name())
		e.codec = c
	}

	if err := e.loadCollections(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("engine opened",
		"dir", e.dir,
		"lsn", p.LSN(),
		"collections", len(e.states),
		"page_size", p.PageSize(),
		"codec", e.codec.Name(),
	)
	return e, nil
}

func (e *Engine) loadCollections(ctx context.Context) error {
	pages := committedPages{e.pager}
	for name, root := range e.pager.Catalog() {
		st, err := loadCollection(ctx, e.codec, pages, root)
		if err != nil {
			return fmt.Errorf("load collection %q: %w", name, translate(err))
		}
		if st.meta.Name != name {
			return fmt.Errorf("%w: catalog entry %q points at collection %q", ErrCorrupt, name, st.meta.Name)
		}
		e.states[name] = st
	}
	return nil
}

// committedState returns a private copy of the committed state of a
// collection, or nil if it does not exist.
func (e *Engine) committedState(name string) *collectionState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, ok := e.states[name]
	if !ok {
		return nil
	}
	return st.clone()
}

// publish installs committed collection states. It runs while the pager
// holds its apply lock, so readers observe it together with the pages.
func (e *Engine) publish(states []*collectionState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for _, st := range states {
		e.states[st.meta.Name] = st
	}
}

// Collections returns the names of all committed collections, sorted.
func (e *Engine) Collections() []string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return slices.Sorted(maps.Keys(e.states))
}

// Stats returns storage statistics.
func (e *Engine) Stats() Stats {
	ps := e.pager.Stats()
	e.stateMu.Lock()
	n := len(e.states)
	e.stateMu.Unlock()
	return Stats{
		LSN:           ps.LSN,
		PageSize:      ps.PageSize,
		Pages:         uint64(ps.NextPage) - 1,
		FreePages:     ps.FreePages,
		ReservedPages: ps.ReservedPages,
		Collections:   n,
		CacheBytes:    ps.CacheBytes,
		CacheHits:     ps.CacheHits,
		CacheMisses:   ps.CacheMisses,
	}
}

// Codec returns the document codec in use.
func (e *Engine) Codec() codec.Codec { return e.codec }

// Close closes the engine. Transactions still running fail on commit.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	err := e.pager.Close()
	if errors.Is(err, pager.ErrClosed) {
		err = nil
	}
	if uerr := e.dirLock.Unlock(); err == nil {
		err = uerr
	}

	e.logger.Info("engine closed", "dir", e.dir)
	return err
}
