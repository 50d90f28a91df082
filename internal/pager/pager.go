package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/docstore/blobstore"
	"github.com/hupe1980/docstore/internal/cache"
	"github.com/hupe1980/docstore/internal/resource"
	"github.com/hupe1980/docstore/internal/wal"
)

// DefaultCacheBytes is the default size of the committed page cache.
const DefaultCacheBytes = 16 << 20

// Options configures a Pager.
type Options struct {
	// PageSize applies to new databases only. An existing database keeps the
	// page size recorded in its header.
	PageSize int

	// MaxPages bounds the number of allocatable pages. 0 means unlimited.
	MaxPages uint32

	// CacheBytes sizes the committed page cache. 0 selects DefaultCacheBytes,
	// a negative value disables caching.
	CacheBytes int64

	// Codec is recorded in the header of a new database.
	Codec string

	Logger             *slog.Logger
	ResourceController *resource.Controller
}

// Stats describes the allocator state.
type Stats struct {
	LSN           uint64
	PageSize      int
	NextPage      PageID
	FreePages     uint64
	ReservedPages uint64
	CacheBytes    int64
	CacheHits     int64
	CacheMisses   int64
}

// Pager owns the page store, the write-ahead log and the page allocator.
//
// The page store only ever holds committed page images. Uncommitted images
// live in transaction memory or, after a spill, in the WAL. A commit appends
// its remaining pages and a commit record to the WAL, syncs, then publishes
// the pages and the header to the store.
type Pager struct {
	store  blobstore.BlobStore
	wal    *wal.WAL // nil for purely in-memory databases
	cache  *cache.LRU[PageID]
	rc     *resource.Controller
	logger *slog.Logger

	pageSize int
	maxPages uint32

	// commitMu serializes commits so WAL commit order equals LSN order.
	commitMu sync.Mutex
	// applyMu is held exclusively while a commit publishes pages and state.
	// Readers hold it shared for the duration of a read.
	applyMu sync.RWMutex

	mu       sync.Mutex
	lsn      uint64
	nextPage PageID
	free     *roaring.Bitmap // committed free pages, allocatable
	reserved *roaring.Bitmap // allocated by in-flight transactions
	catalog  map[string]PageID
	codec    string
	nextTx   uint64
	walUsers int // in-flight transactions with records in the WAL
	failed   error
	closed   bool
}

// Open opens the pager on store, replaying committed transactions found in
// the WAL. The pager takes ownership of w, which may be nil.
func Open(ctx context.Context, store blobstore.BlobStore, w *wal.WAL, opts Options) (*Pager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, fmt.Errorf("pager: page size %d outside [%d, %d]", pageSize, MinPageSize, MaxPageSize)
	}

	p := &Pager{
		store:    store,
		wal:      w,
		rc:       opts.ResourceController,
		logger:   logger,
		maxPages: opts.MaxPages,
		reserved: roaring.New(),
	}

	if w != nil {
		if err := p.recover(ctx); err != nil {
			return nil, err
		}
	}

	data, err := blobstore.ReadAll(ctx, store, headerBlob)
	switch {
	case err == nil:
		st, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		p.install(st)
	case errors.Is(err, blobstore.ErrNotFound):
		p.install(&state{
			pageSize: pageSize,
			nextPage: 1,
			free:     roaring.New(),
			catalog:  make(map[string]PageID),
			codec:    opts.Codec,
		})
	default:
		return nil, fmt.Errorf("pager: read header: %w", err)
	}

	cacheBytes := opts.CacheBytes
	if cacheBytes == 0 {
		cacheBytes = DefaultCacheBytes
	}
	if cacheBytes > 0 {
		p.cache = cache.NewLRU[PageID](cacheBytes, p.rc)
	}

	logger.Debug("pager opened", "lsn", p.lsn, "page_size", p.pageSize, "next_page", p.nextPage, "free", p.free.GetCardinality())
	return p, nil
}

func (p *Pager) install(st *state) {
	p.lsn = st.lsn
	p.pageSize = st.pageSize
	p.nextPage = st.nextPage
	p.free = st.free
	p.catalog = st.catalog
	p.codec = st.codec
}

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int { return p.pageSize }

// Capacity returns the number of payload bytes per page.
func (p *Pager) Capacity() int { return p.pageSize - PageHeaderSize }

// Codec returns the codec name recorded for the database.
func (p *Pager) Codec() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec
}

// LSN returns the last committed sequence number.
func (p *Pager) LSN() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lsn
}

// Catalog returns a copy of the committed root table.
func (p *Pager) Catalog() map[string]PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PageID, len(p.catalog))
	for k, v := range p.catalog {
		out[k] = v
	}
	return out
}

// Stats returns allocator statistics.
func (p *Pager) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		LSN:           p.lsn,
		PageSize:      p.pageSize,
		NextPage:      p.nextPage,
		FreePages:     p.free.GetCardinality(),
		ReservedPages: p.reserved.GetCardinality(),
	}
	if p.cache != nil {
		st.CacheBytes = p.cache.Size()
		st.CacheHits, st.CacheMisses = p.cache.Stats()
	}
	return st
}

// View runs fn while no commit is being published. Reads of committed pages
// inside fn observe a single commit boundary.
func (p *Pager) View(fn func() error) error {
	p.applyMu.RLock()
	defer p.applyMu.RUnlock()
	return fn()
}

// ReadCommitted reads the committed image of a page.
func (p *Pager) ReadCommitted(ctx context.Context, id PageID) (Page, error) {
	if id == InvalidPage {
		return Page{}, fmt.Errorf("%w: %d", ErrInvalidPage, id)
	}
	if p.cache != nil {
		if buf, ok := p.cache.Get(id); ok {
			return decodePage(id, buf)
		}
	}
	buf, err := blobstore.ReadAll(ctx, p.store, pageName(id))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Page{}, fmt.Errorf("%w: %d", ErrInvalidPage, id)
		}
		return Page{}, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	page, err := decodePage(id, buf)
	if err != nil {
		return Page{}, err
	}
	if p.cache != nil {
		p.cache.Set(id, buf)
	}
	return page, nil
}

// Begin starts a transaction.
func (p *Pager) Begin() (*Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usableLocked(); err != nil {
		return nil, err
	}
	p.nextTx++
	return newTx(p, p.nextTx), nil
}

func (p *Pager) usableLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.failed != nil {
		return fmt.Errorf("%w: %w", ErrFailed, p.failed)
	}
	return nil
}

// fail poisons the pager after an error that left the WAL or the page store
// in a state only recovery can resolve.
func (p *Pager) fail(err error) {
	p.mu.Lock()
	if p.failed == nil {
		p.failed = err
	}
	p.mu.Unlock()
	p.logger.Error("pager failed", "error", err)
}

// releaseWAL drops a WAL user and truncates the log once nobody references it.
func (p *Pager) releaseWAL() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walUsers--
	if p.walUsers > 0 || p.failed != nil || p.closed {
		return
	}
	if err := p.wal.Reset(); err != nil {
		// Replay of applied commits is idempotent, the log is retried later.
		p.logger.Warn("wal reset failed", "error", err)
	}
}

// Close releases the cache and closes the WAL.
func (p *Pager) Close() error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	if p.cache != nil {
		p.cache.Purge()
	}
	if p.wal != nil {
		return p.wal.Close()
	}
	return nil
}
