package pager

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/docstore/internal/wal"
)

// Tx is a pager transaction. It is owned by a single goroutine.
//
// Pages written by a Tx are invisible to everybody else until Commit
// publishes them. Pages allocated by a Tx are reserved and go back to the
// free set on Rollback; pages freed by a Tx become allocatable after Commit.
type Tx struct {
	p  *Pager
	id uint64

	dirty     map[PageID]*dirtyPage
	spilled   map[PageID]int64 // page -> WAL offset of its latest image
	allocated *roaring.Bitmap
	freed     *roaring.Bitmap
	roots     map[string]PageID

	charged  int64 // dirty bytes reserved with the resource controller
	pressure bool  // the controller refused memory since the last spill
	usesWAL  bool
	done     bool
}

type dirtyPage struct {
	buf     []byte
	charged bool
}

func newTx(p *Pager, id uint64) *Tx {
	return &Tx{
		p:         p,
		id:        id,
		dirty:     make(map[PageID]*dirtyPage),
		spilled:   make(map[PageID]int64),
		allocated: roaring.New(),
		freed:     roaring.New(),
		roots:     make(map[string]PageID),
	}
}

// ID returns the transaction id.
func (tx *Tx) ID() uint64 { return tx.id }

// PageSize returns the page size in bytes.
func (tx *Tx) PageSize() int { return tx.p.pageSize }

// Capacity returns the number of payload bytes per page.
func (tx *Tx) Capacity() int { return tx.p.Capacity() }

// Allocate reserves a page, reusing free pages first.
func (tx *Tx) Allocate() (PageID, error) {
	if tx.done {
		return InvalidPage, ErrTxDone
	}

	p := tx.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usableLocked(); err != nil {
		return InvalidPage, err
	}

	var id PageID
	if !p.free.IsEmpty() {
		id = PageID(p.free.Minimum())
		p.free.Remove(uint32(id))
	} else {
		if p.maxPages > 0 && uint32(p.nextPage) > p.maxPages {
			return InvalidPage, fmt.Errorf("%w: limit of %d pages reached", ErrStorageExhausted, p.maxPages)
		}
		id = p.nextPage
		p.nextPage++
	}
	p.reserved.Add(uint32(id))
	tx.allocated.Add(uint32(id))
	return id, nil
}

// Free releases a page. A page allocated by this transaction is returned to
// the free set immediately; a committed page becomes free at commit.
func (tx *Tx) Free(id PageID) error {
	if tx.done {
		return ErrTxDone
	}
	if id == InvalidPage || tx.freed.Contains(uint32(id)) {
		return fmt.Errorf("%w: double free of %d", ErrInvalidPage, id)
	}

	tx.dropImage(id)

	if tx.allocated.Contains(uint32(id)) {
		tx.allocated.Remove(uint32(id))
		p := tx.p
		p.mu.Lock()
		p.reserved.Remove(uint32(id))
		p.free.Add(uint32(id))
		p.mu.Unlock()
		return nil
	}
	tx.freed.Add(uint32(id))
	return nil
}

func (tx *Tx) dropImage(id PageID) {
	tx.dropDirty(id)
	delete(tx.spilled, id)
}

// Write stores a page image in the transaction.
func (tx *Tx) Write(id PageID, typ PageType, next PageID, data []byte) error {
	if tx.done {
		return ErrTxDone
	}
	if id == InvalidPage || tx.freed.Contains(uint32(id)) {
		return fmt.Errorf("%w: write to %d", ErrInvalidPage, id)
	}
	if len(data) > tx.Capacity() {
		return fmt.Errorf("%w: %d > %d", ErrPageTooLarge, len(data), tx.Capacity())
	}

	buf := encodePage(typ, next, data)
	if d, ok := tx.dirty[id]; ok {
		d.buf = buf
		return nil
	}

	d := &dirtyPage{buf: buf}
	if tx.p.rc.TryAcquireMemory(int64(tx.p.pageSize)) {
		d.charged = true
		tx.charged += int64(tx.p.pageSize)
	} else {
		tx.pressure = true
	}
	tx.dirty[id] = d
	delete(tx.spilled, id)
	return nil
}

// Read returns the page as seen by this transaction.
func (tx *Tx) Read(ctx context.Context, id PageID) (Page, error) {
	if tx.done {
		return Page{}, ErrTxDone
	}
	if tx.freed.Contains(uint32(id)) {
		return Page{}, fmt.Errorf("%w: read of freed page %d", ErrInvalidPage, id)
	}
	if d, ok := tx.dirty[id]; ok {
		return decodePage(id, d.buf)
	}
	if off, ok := tx.spilled[id]; ok {
		rec, err := tx.p.wal.ReadAt(off)
		if err != nil {
			return Page{}, fmt.Errorf("pager: read spilled page %d: %w", id, err)
		}
		return decodePage(id, rec.Data)
	}
	return tx.p.ReadCommitted(ctx, id)
}

// Root returns the catalog entry for name.
func (tx *Tx) Root(name string) (PageID, bool) {
	if id, ok := tx.roots[name]; ok {
		return id, id != InvalidPage
	}
	tx.p.mu.Lock()
	defer tx.p.mu.Unlock()
	id, ok := tx.p.catalog[name]
	return id, ok
}

// SetRoot records a catalog entry, published at commit. InvalidPage removes it.
func (tx *Tx) SetRoot(name string, id PageID) {
	tx.roots[name] = id
}

// DirtyPages returns the number of page images held in memory.
func (tx *Tx) DirtyPages() int { return len(tx.dirty) }

// SpilledPages returns the number of page images held in the WAL.
func (tx *Tx) SpilledPages() int { return len(tx.spilled) }

// UnderPressure reports whether the resource controller refused dirty page
// memory since the last spill.
func (tx *Tx) UnderPressure() bool { return tx.pressure }

// Spill moves the dirty page images to the WAL and releases their memory.
// Spilled pages stay private to the transaction. Without a WAL Spill is a
// no-op.
func (tx *Tx) Spill(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.pressure = false
	if tx.p.wal == nil || len(tx.dirty) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.appendDirty(); err != nil {
		return err
	}
	tx.p.logger.Debug("spilled dirty pages", "tx", tx.id, "spilled", len(tx.spilled))
	return nil
}

// appendDirty writes every dirty page to the WAL.
func (tx *Tx) appendDirty() error {
	p := tx.p
	if !tx.usesWAL {
		p.mu.Lock()
		if err := p.usableLocked(); err != nil {
			p.mu.Unlock()
			return err
		}
		p.walUsers++
		p.mu.Unlock()
		tx.usesWAL = true
	}

	for _, id := range slices.Sorted(maps.Keys(tx.dirty)) {
		off, err := p.wal.Append(&wal.Record{
			Type:   wal.RecordTypePage,
			TxID:   tx.id,
			PageID: uint32(id),
			Data:   tx.dirty[id].buf,
		})
		if err != nil {
			// A partial frame in the middle of the log would hide later commits.
			p.fail(err)
			return err
		}
		tx.spilled[id] = off
		tx.dropDirty(id)
	}
	return nil
}

func (tx *Tx) dropDirty(id PageID) {
	if d := tx.dirty[id]; d != nil && d.charged {
		tx.p.rc.ReleaseMemory(int64(tx.p.pageSize))
		tx.charged -= int64(tx.p.pageSize)
	}
	delete(tx.dirty, id)
}

func (tx *Tx) empty() bool {
	return len(tx.dirty) == 0 && len(tx.spilled) == 0 && tx.freed.IsEmpty() &&
		tx.allocated.IsEmpty() && len(tx.roots) == 0
}

// Commit makes the transaction durable and visible. publish, if not nil, runs
// after the pages are in the store and before any reader can observe them;
// callers use it to swap in their committed in-memory state.
func (tx *Tx) Commit(ctx context.Context, publish func()) error {
	if tx.done {
		return ErrTxDone
	}
	p := tx.p

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if tx.empty() {
		tx.finish()
		if publish != nil {
			p.applyMu.Lock()
			publish()
			p.applyMu.Unlock()
		}
		return nil
	}

	p.mu.Lock()
	if err := p.usableLocked(); err != nil {
		p.mu.Unlock()
		tx.rollback()
		return err
	}
	next := &state{
		lsn:      p.lsn + 1,
		pageSize: p.pageSize,
		nextPage: p.nextPage,
		free:     roaring.Or(p.free, tx.freed),
		catalog:  make(map[string]PageID, len(p.catalog)+len(tx.roots)),
		codec:    p.codec,
	}
	for k, v := range p.catalog {
		next.catalog[k] = v
	}
	for k, v := range tx.roots {
		if v == InvalidPage {
			delete(next.catalog, k)
		} else {
			next.catalog[k] = v
		}
	}
	// Pages reserved by other in-flight transactions are persisted as free so
	// a crash never leaks them.
	persisted := *next
	persisted.free = roaring.Or(next.free, roaring.AndNot(p.reserved, tx.allocated))
	p.mu.Unlock()

	hdr, err := persisted.encode()
	if err != nil {
		tx.rollback()
		return fmt.Errorf("pager: encode header: %w", err)
	}

	if p.wal != nil {
		if err := tx.logCommit(next.lsn, hdr); err != nil {
			tx.rollback()
			return err
		}
	}

	if err := tx.apply(ctx, next, hdr, publish); err != nil {
		tx.rollback()
		return err
	}

	tx.p.logger.Debug("committed", "tx", tx.id, "lsn", next.lsn, "pages", len(tx.dirty)+len(tx.spilled), "freed", tx.freed.GetCardinality())
	tx.finish()
	return nil
}

// logCommit makes the transaction durable: remaining page images, then the
// commit record listing the pages of the transaction, then a sync.
func (tx *Tx) logCommit(lsn uint64, hdr []byte) error {
	if err := tx.appendDirty(); err != nil {
		return err
	}

	pages := roaring.New()
	for id := range tx.spilled {
		pages.Add(uint32(id))
	}
	list, err := pages.ToBytes()
	if err != nil {
		return err
	}

	p := tx.p
	if _, err := p.wal.Append(&wal.Record{
		Type:  wal.RecordTypeCommit,
		TxID:  tx.id,
		LSN:   lsn,
		Pages: list,
		Data:  hdr,
	}); err != nil {
		p.fail(err)
		return err
	}
	if err := p.wal.Sync(); err != nil {
		// The commit record may or may not be durable; only replay can tell.
		p.fail(err)
		return err
	}
	return nil
}

// apply publishes page images and the header to the store.
func (tx *Tx) apply(ctx context.Context, next *state, hdr []byte, publish func()) error {
	p := tx.p
	// A durable commit must reach the store even if the caller gives up.
	ctx = context.WithoutCancel(ctx)

	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	// Writers take a slot from the resource controller, which bounds page
	// store concurrency across commits and recovery.
	put := func(id PageID, load func() ([]byte, error)) error {
		if err := p.rc.AcquireWorker(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			defer p.rc.ReleaseWorker()
			buf, err := load()
			if err != nil {
				return err
			}
			if err := p.rc.AcquireIO(gctx, len(buf)); err != nil {
				return err
			}
			if err := p.store.Put(gctx, pageName(id), buf); err != nil {
				return fmt.Errorf("pager: put page %d: %w", id, err)
			}
			if p.cache != nil {
				p.cache.Set(id, buf)
			}
			return nil
		})
		return nil
	}
	var spawnErr error
	for id, d := range tx.dirty {
		buf := d.buf
		if spawnErr = put(id, func() ([]byte, error) { return buf, nil }); spawnErr != nil {
			break
		}
	}
	for id, off := range tx.spilled {
		if spawnErr != nil {
			break
		}
		spawnErr = put(id, func() ([]byte, error) {
			rec, err := p.wal.ReadAt(off)
			if err != nil {
				return nil, fmt.Errorf("pager: reload page %d: %w", id, err)
			}
			return rec.Data, nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = spawnErr
	}
	if err == nil {
		err = p.store.Put(ctx, headerBlob, hdr)
	}
	if err != nil {
		// Pages rewritten in place may already be visible in the store.
		// With a WAL, reopening replays the durable commit.
		p.fail(err)
		return err
	}

	if p.cache != nil {
		tx.freed.Iterate(func(x uint32) bool {
			p.cache.Delete(PageID(x))
			return true
		})
	}

	// Other transactions may have allocated or released pages since the
	// header was built, so deltas are applied to the live state.
	p.mu.Lock()
	p.lsn = next.lsn
	p.free.Or(tx.freed)
	p.reserved.AndNot(tx.allocated)
	p.catalog = next.catalog
	p.mu.Unlock()

	if publish != nil {
		publish()
	}
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.rollback()
}

func (tx *Tx) rollback() {
	p := tx.p
	p.mu.Lock()
	p.reserved.AndNot(tx.allocated)
	p.free.Or(tx.allocated)
	p.mu.Unlock()
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	tx.p.rc.ReleaseMemory(tx.charged)
	tx.charged = 0
	tx.dirty = nil
	tx.spilled = nil
	if tx.usesWAL {
		tx.usesWAL = false
		tx.p.releaseWAL()
	}
}
