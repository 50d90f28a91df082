package engine

import (
	"context"
	"fmt"

	"github.com/tidwall/btree"

	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/pager"
)

// Mode is the access mode of a snapshot.
type Mode uint8

const (
	// ModeRead allows lookups only.
	ModeRead Mode = iota
	// ModeWrite allows lookups and mutations.
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Snapshot is a view of one collection: its metadata and index trees as of
// creation plus the changes made through it. Inside a transaction it holds
// the collection lock until the transaction ends.
type Snapshot struct {
	e     *Engine
	tx    *Transaction // nil for read views outside a transaction
	ptx   *pager.Tx
	pages pageSource
	mode  Mode
	name  string

	meta    CollectionMeta
	metaLoc Location
	trees   []*btree.BTreeG[Entry]
	layouts []indexLayout

	created   bool
	dirtyMeta bool
	dirtyIdx  []bool
	// touched lists the entries changed per index since the last commit.
	touched [][]Entry

	index *IndexService
	data  *DataService
}

func newSnapshot(e *Engine, st *collectionState, mode Mode) *Snapshot {
	s := &Snapshot{
		e:        e,
		mode:     mode,
		name:     st.meta.Name,
		meta:     st.meta,
		metaLoc:  st.metaLoc,
		trees:    st.trees,
		layouts:  st.layouts,
		dirtyIdx: make([]bool, len(st.trees)),
		touched:  make([][]Entry, len(st.trees)),
	}
	s.index = &IndexService{snap: s}
	s.data = &DataService{snap: s, typ: pager.PageTypeData}
	return s
}

// Name returns the collection name.
func (s *Snapshot) Name() string { return s.name }

// Mode returns the access mode.
func (s *Snapshot) Mode() Mode { return s.mode }

// Meta returns a copy of the collection metadata as seen by the snapshot.
func (s *Snapshot) Meta() CollectionMeta {
	m := s.meta
	m.Indexes = append([]IndexDef(nil), s.meta.Indexes...)
	return m
}

// Count returns the number of documents visible to the snapshot.
func (s *Snapshot) Count() int64 { return s.meta.Count }

// Index returns the index service of the snapshot.
func (s *Snapshot) Index() *IndexService { return s.index }

// Data returns the data service of the snapshot.
func (s *Snapshot) Data() *DataService { return s.data }

func (s *Snapshot) usable() error {
	if s.tx != nil && s.tx.done {
		return ErrTxDone
	}
	return nil
}

func (s *Snapshot) writable() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.mode != ModeWrite || s.ptx == nil {
		return fmt.Errorf("%w: snapshot of %q is read-only", ErrInvalidArgument, s.name)
	}
	return nil
}

func (s *Snapshot) dirty() bool {
	if s.dirtyMeta {
		return true
	}
	for _, d := range s.dirtyIdx {
		if d {
			return true
		}
	}
	return false
}

// FindByID returns the document with the given primary key.
func (s *Snapshot) FindByID(ctx context.Context, id document.Value) (*document.Document, error) {
	e, found, err := s.index.Find(PrimaryIndex, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s[%s]", ErrNotFound, s.name, id)
	}
	return s.readDocument(ctx, e.Location)
}

// Find returns the documents whose index value equals key.
func (s *Snapshot) Find(ctx context.Context, index string, key document.Value) ([]*document.Document, error) {
	entries, err := s.index.FindAll(index, key)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(entries))
	for _, e := range entries {
		doc, err := s.readDocument(ctx, e.Location)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Snapshot) readDocument(ctx context.Context, loc Location) (*document.Document, error) {
	data, err := s.data.Read(ctx, loc)
	if err != nil {
		return nil, err
	}
	var doc document.Document
	if err := s.e.codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode document in %q at %d: %w", ErrCorrupt, s.name, loc, err)
	}
	return &doc, nil
}

// persist writes the changed nodes of modified indexes and the metadata
// through the transaction and records the collection root.
func (s *Snapshot) persist(ctx context.Context) error {
	for i, dirty := range s.dirtyIdx {
		if !dirty {
			continue
		}
		if err := s.persistIndex(ctx, i); err != nil {
			return fmt.Errorf("write index %q: %w", s.meta.Indexes[i].Name, err)
		}
	}

	data, err := s.e.codec.Marshal(&s.meta)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	svc := &DataService{snap: s, typ: pager.PageTypeCollection}
	if s.metaLoc == InvalidLocation {
		s.metaLoc, err = svc.Insert(ctx, data)
	} else {
		s.metaLoc, err = svc.Update(ctx, s.metaLoc, data)
	}
	if err != nil {
		return fmt.Errorf("write collection: %w", err)
	}
	s.ptx.SetRoot(s.name, s.metaLoc)
	return nil
}

func (s *Snapshot) state() *collectionState {
	return &collectionState{meta: s.meta, metaLoc: s.metaLoc, trees: s.trees, layouts: s.layouts}
}

// View runs fn on a read-only snapshot of the committed state of a
// collection. Commits wait until fn returns, so every read inside fn sees the
// same commit. fn must not start transactions.
func (e *Engine) View(ctx context.Context, collection string, fn func(s *Snapshot) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	return e.pager.View(func() error {
		st := e.committedState(collection)
		if st == nil {
			return fmt.Errorf("%w: collection %q", ErrNotFound, collection)
		}
		s := newSnapshot(e, st, ModeRead)
		s.pages = committedPages{e.pager}
		return fn(s)
	})
}
