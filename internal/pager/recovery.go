package pager

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/docstore/internal/compress"
	"github.com/hupe1980/docstore/internal/wal"
)

// recover re-applies every transaction that has a commit record in the WAL.
// Page records without a commit record belong to transactions that never
// committed and are discarded. Applying an already applied commit again is
// harmless because records are replayed in commit order.
func (p *Pager) recover(ctx context.Context) error {
	if p.wal.Empty() {
		return nil
	}

	r, err := p.wal.Reader()
	if err != nil {
		return fmt.Errorf("pager: open wal: %w", err)
	}
	defer func() { _ = r.Close() }()

	pending := make(map[uint64]map[uint32]int64)
	var replayed int
	var lastLSN uint64

	for {
		rec, off, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if isTornTail(err) {
			p.logger.Warn("wal tail discarded", "offset", off, "error", err)
			break
		}
		if err != nil {
			return fmt.Errorf("pager: read wal: %w", err)
		}

		switch rec.Type {
		case wal.RecordTypePage:
			pages, ok := pending[rec.TxID]
			if !ok {
				pages = make(map[uint32]int64)
				pending[rec.TxID] = pages
			}
			pages[rec.PageID] = off
		case wal.RecordTypeCommit:
			if err := p.replay(ctx, rec, pending[rec.TxID]); err != nil {
				return err
			}
			delete(pending, rec.TxID)
			replayed++
			lastLSN = rec.LSN
		}
	}

	if replayed > 0 {
		p.logger.Info("recovered transactions from wal", "transactions", replayed, "lsn", lastLSN, "discarded", len(pending))
	}
	return p.wal.Reset()
}

func (p *Pager) replay(ctx context.Context, commit *wal.Record, images map[uint32]int64) error {
	pages := roaring.New()
	if err := pages.UnmarshalBinary(commit.Pages); err != nil {
		return fmt.Errorf("%w: commit %d page list: %w", ErrCorrupt, commit.LSN, err)
	}

	var err error
	pages.Iterate(func(id uint32) bool {
		off, ok := images[id]
		if !ok {
			err = fmt.Errorf("%w: commit %d lacks image of page %d", ErrCorrupt, commit.LSN, id)
			return false
		}
		var rec *wal.Record
		if rec, err = p.wal.ReadAt(off); err != nil {
			return false
		}
		if _, err = decodePage(PageID(id), rec.Data); err != nil {
			return false
		}
		err = p.putPage(ctx, PageID(id), rec.Data)
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("pager: replay commit %d: %w", commit.LSN, err)
	}

	if err := p.store.Put(ctx, headerBlob, commit.Data); err != nil {
		return fmt.Errorf("pager: replay commit %d header: %w", commit.LSN, err)
	}
	return nil
}

// putPage writes one page image under the controller's writer and IO limits.
func (p *Pager) putPage(ctx context.Context, id PageID, data []byte) error {
	if err := p.rc.AcquireWorker(ctx); err != nil {
		return err
	}
	defer p.rc.ReleaseWorker()
	if err := p.rc.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	return p.store.Put(ctx, pageName(id), data)
}

func isTornTail(err error) bool {
	return errors.Is(err, wal.ErrShortRead) ||
		errors.Is(err, wal.ErrInvalidCRC) ||
		errors.Is(err, wal.ErrInvalidType) ||
		errors.Is(err, wal.ErrRecordTooLarge) ||
		errors.Is(err, compress.ErrCorruptBlock)
}
