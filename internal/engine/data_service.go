package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/docstore/internal/pager"
)

// pageSource reads pages, either as a transaction sees them or as committed.
type pageSource interface {
	Read(ctx context.Context, id pager.PageID) (pager.Page, error)
}

// committedPages reads committed page images. Callers must be inside
// Pager.View or own the collection lock.
type committedPages struct {
	p *pager.Pager
}

func (c committedPages) Read(ctx context.Context, id pager.PageID) (pager.Page, error) {
	return c.p.ReadCommitted(ctx, id)
}

// readChain follows a page chain and returns its payload and page ids.
func readChain(ctx context.Context, pages pageSource, typ pager.PageType, loc Location) ([]byte, []Location, error) {
	if loc == InvalidLocation {
		return nil, nil, fmt.Errorf("%w: invalid location", ErrCorrupt)
	}

	var (
		data []byte
		ids  []Location
		seen = make(map[Location]struct{})
	)
	for id := loc; id != InvalidLocation; {
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("%w: page chain at %d loops through %d", ErrCorrupt, loc, id)
		}
		seen[id] = struct{}{}

		page, err := pages.Read(ctx, id)
		if err != nil {
			return nil, nil, translate(err)
		}
		if page.Type != typ {
			return nil, nil, fmt.Errorf("%w: page %d is a %s page, want %s", ErrCorrupt, id, page.Type, typ)
		}
		data = append(data, page.Data...)
		ids = append(ids, id)
		id = page.Next
	}
	return data, ids, nil
}

// DataService stores byte strings in chains of pages on behalf of a snapshot.
// Location handles it returns stay valid until the chain is deleted or
// relocated by an Update.
type DataService struct {
	snap *Snapshot
	typ  pager.PageType
}

func (d *DataService) pagesFor(n int) int {
	capacity := d.snap.ptx.Capacity()
	return max(1, (n+capacity-1)/capacity)
}

// Insert stores data in a new chain and returns its location.
func (d *DataService) Insert(ctx context.Context, data []byte) (Location, error) {
	if err := d.snap.writable(); err != nil {
		return InvalidLocation, err
	}

	ptx := d.snap.ptx
	n := d.pagesFor(len(data))
	ids := make([]Location, 0, n)
	for range n {
		id, err := ptx.Allocate()
		if err != nil {
			d.release(ids)
			return InvalidLocation, translate(err)
		}
		ids = append(ids, id)
	}

	if err := d.write(ids, data); err != nil {
		d.release(ids)
		return InvalidLocation, err
	}
	return ids[0], nil
}

// Update replaces the bytes at loc. The chain is rewritten in place when the
// new data fits into it and surplus pages are freed; otherwise the old chain
// is freed and the data moves to a new location, which is returned.
func (d *DataService) Update(ctx context.Context, loc Location, data []byte) (Location, error) {
	if err := d.snap.writable(); err != nil {
		return InvalidLocation, err
	}

	_, ids, err := readChain(ctx, d.snap.pages, d.typ, loc)
	if err != nil {
		return InvalidLocation, err
	}

	n := d.pagesFor(len(data))
	if n > len(ids) {
		newLoc, err := d.Insert(ctx, data)
		if err != nil {
			return InvalidLocation, err
		}
		if err := d.free(ids); err != nil {
			return InvalidLocation, err
		}
		return newLoc, nil
	}

	if err := d.write(ids[:n], data); err != nil {
		return InvalidLocation, err
	}
	if err := d.free(ids[n:]); err != nil {
		return InvalidLocation, err
	}
	return loc, nil
}

// Read returns the bytes stored at loc.
func (d *DataService) Read(ctx context.Context, loc Location) ([]byte, error) {
	if err := d.snap.usable(); err != nil {
		return nil, err
	}
	data, _, err := readChain(ctx, d.snap.pages, d.typ, loc)
	return data, err
}

// Delete frees every page of the chain at loc.
func (d *DataService) Delete(ctx context.Context, loc Location) error {
	if err := d.snap.writable(); err != nil {
		return err
	}
	_, ids, err := readChain(ctx, d.snap.pages, d.typ, loc)
	if err != nil {
		return err
	}
	return d.free(ids)
}

func (d *DataService) write(ids []Location, data []byte) error {
	capacity := d.snap.ptx.Capacity()
	for i, id := range ids {
		next := InvalidLocation
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		lo := min(i*capacity, len(data))
		hi := min(lo+capacity, len(data))
		if err := d.snap.ptx.Write(id, d.typ, next, data[lo:hi]); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (d *DataService) free(ids []Location) error {
	for _, id := range ids {
		if err := d.snap.ptx.Free(id); err != nil {
			return translate(err)
		}
	}
	return nil
}

// release returns pages of a failed allocation. They were allocated by the
// same transaction, so Free cannot fail for them.
func (d *DataService) release(ids []Location) {
	for _, id := range ids {
		_ = d.snap.ptx.Free(id)
	}
}
