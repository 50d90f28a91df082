package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/autoid"
)

// Insert stores documents that must not exist yet. Documents without an _id
// get one generated by strategy; the generated value is written into the
// document. A duplicate _id fails the whole call.
func (t *Transaction) Insert(ctx context.Context, collection string, docs []*document.Document, strategy autoid.Strategy) (int, error) {
	s, err := t.CreateSnapshot(ctx, ModeWrite, collection, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		if _, err := s.insert(ctx, doc, strategy); err != nil {
			return 0, err
		}
		n++
		if err := t.safepoint(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Update replaces existing documents matched by _id and returns how many
// were found. Documents without a match are skipped.
func (t *Transaction) Update(ctx context.Context, collection string, docs []*document.Document) (int, error) {
	s, err := t.CreateSnapshot(ctx, ModeWrite, collection, false)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		ok, err := s.update(ctx, doc)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
		if err := t.safepoint(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Upsert updates documents whose _id exists and inserts the others. It
// returns the number of inserted documents.
func (t *Transaction) Upsert(ctx context.Context, collection string, docs []*document.Document, strategy autoid.Strategy) (int, error) {
	s, err := t.CreateSnapshot(ctx, ModeWrite, collection, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		updated := false
		if _, hasID := doc.ID(); hasID {
			if updated, err = s.update(ctx, doc); err != nil {
				return 0, err
			}
		}
		if !updated {
			if _, err := s.insert(ctx, doc, strategy); err != nil {
				return 0, err
			}
			n++
		}
		if err := t.safepoint(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Delete removes documents by _id and returns how many existed.
func (t *Transaction) Delete(ctx context.Context, collection string, ids []document.Value) (int, error) {
	s, err := t.CreateSnapshot(ctx, ModeWrite, collection, false)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := s.delete(ctx, id)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
		if err := t.safepoint(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// EnsureIndex creates a secondary index on field and fills it from the
// existing documents. It reports false if an identical index already exists.
func (t *Transaction) EnsureIndex(ctx context.Context, collection, name, field string, unique bool) (bool, error) {
	if name == "" || field == "" {
		return false, fmt.Errorf("%w: index name and field are required", ErrInvalidArgument)
	}
	if name == PrimaryIndex {
		return false, fmt.Errorf("%w: index name %q is reserved", ErrInvalidArgument, name)
	}
	s, err := t.CreateSnapshot(ctx, ModeWrite, collection, true)
	if err != nil {
		return false, err
	}
	return s.ensureIndex(ctx, name, field, unique)
}

// FindByID returns a document as seen by this transaction.
func (t *Transaction) FindByID(ctx context.Context, collection string, id document.Value) (*document.Document, error) {
	s, err := t.CreateSnapshot(ctx, ModeRead, collection, false)
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

// insert stores a new document and its index entries.
func (s *Snapshot) insert(ctx context.Context, doc *document.Document, strategy autoid.Strategy) (document.Value, error) {
	if doc == nil {
		return document.Value{}, fmt.Errorf("%w: nil document", ErrInvalidArgument)
	}
	id, _, err := autoid.Assign(doc, strategy, &s.meta.Sequence)
	if err != nil {
		return document.Value{}, fmt.Errorf("insert into %q: %w", s.name, translate(err))
	}
	s.dirtyMeta = true

	data, err := s.e.codec.Marshal(doc)
	if err != nil {
		return document.Value{}, fmt.Errorf("%w: encode %s[%s]: %w", ErrInvalidArgument, s.name, id, err)
	}
	loc, err := s.data.Insert(ctx, data)
	if err != nil {
		return document.Value{}, fmt.Errorf("insert %s[%s]: %w", s.name, id, err)
	}
	if _, err := s.index.Insert(PrimaryIndex, id, document.Null(), loc); err != nil {
		return document.Value{}, err
	}
	for _, def := range s.meta.Indexes[1:] {
		if _, err := s.index.Insert(def.Name, indexKey(doc, def.Field), id, loc); err != nil {
			return document.Value{}, err
		}
	}
	s.meta.Count++
	return id, nil
}

// update replaces the stored revision of a document. It reports false when
// no document has the _id.
func (s *Snapshot) update(ctx context.Context, doc *document.Document) (bool, error) {
	if doc == nil {
		return false, fmt.Errorf("%w: nil document", ErrInvalidArgument)
	}
	id, ok := doc.ID()
	if !ok {
		return false, fmt.Errorf("%w: update of %q requires an _id", ErrInvalidArgument, s.name)
	}
	if id.IsSentinel() {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgument, autoid.ErrInvalidID)
	}

	pk, found, err := s.index.Find(PrimaryIndex, id)
	if err != nil || !found {
		return false, err
	}

	var old *document.Document
	if len(s.meta.Indexes) > 1 {
		if old, err = s.readDocument(ctx, pk.Location); err != nil {
			return false, err
		}
	}

	data, err := s.e.codec.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s[%s]: %w", ErrInvalidArgument, s.name, id, err)
	}
	loc, err := s.data.Update(ctx, pk.Location, data)
	if err != nil {
		return false, fmt.Errorf("update %s[%s]: %w", s.name, id, err)
	}
	moved := loc != pk.Location
	if moved {
		if _, err := s.index.Update(PrimaryIndex, pk, loc); err != nil {
			return false, err
		}
	}

	for _, def := range s.meta.Indexes[1:] {
		oldKey, newKey := indexKey(old, def.Field), indexKey(doc, def.Field)
		prev := Entry{Key: oldKey, PK: id}
		if s.e.indexMaintenance == IndexMaintenanceChanged && oldKey.Equal(newKey) {
			if moved {
				if _, err := s.index.Update(def.Name, prev, loc); err != nil {
					return false, err
				}
			}
			continue
		}
		if err := s.index.Remove(def.Name, prev); err != nil {
			return false, err
		}
		if _, err := s.index.Insert(def.Name, newKey, id, loc); err != nil {
			return false, err
		}
	}
	return true, nil
}

// delete removes a document and its index entries.
func (s *Snapshot) delete(ctx context.Context, id document.Value) (bool, error) {
	pk, found, err := s.index.Find(PrimaryIndex, id)
	if err != nil || !found {
		return false, err
	}

	var old *document.Document
	if len(s.meta.Indexes) > 1 {
		if old, err = s.readDocument(ctx, pk.Location); err != nil {
			return false, err
		}
	}
	if err := s.data.Delete(ctx, pk.Location); err != nil {
		return false, fmt.Errorf("delete %s[%s]: %w", s.name, id, err)
	}
	if err := s.index.Remove(PrimaryIndex, pk); err != nil {
		return false, err
	}
	for _, def := range s.meta.Indexes[1:] {
		if err := s.index.Remove(def.Name, Entry{Key: indexKey(old, def.Field), PK: id}); err != nil {
			return false, err
		}
	}
	s.meta.Count--
	s.dirtyMeta = true
	return true, nil
}

func (s *Snapshot) ensureIndex(ctx context.Context, name, field string, unique bool) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	for _, def := range s.meta.Indexes {
		if def.Name != name {
			continue
		}
		if def.Field == field && def.Unique == unique {
			return false, nil
		}
		return false, fmt.Errorf("%w: index %q on %q exists with a different definition", ErrInvalidArgument, name, s.name)
	}

	primary, err := s.index.Entries(PrimaryIndex)
	if err != nil {
		return false, err
	}
	s.meta.Indexes = append(s.meta.Indexes, IndexDef{Name: name, Field: field, Unique: unique})
	s.trees = append(s.trees, newTree())
	s.layouts = append(s.layouts, indexLayout{})
	s.dirtyIdx = append(s.dirtyIdx, true)
	s.touched = append(s.touched, nil)
	s.dirtyMeta = true

	for _, pk := range primary {
		doc, err := s.readDocument(ctx, pk.Location)
		if err != nil {
			return false, err
		}
		if _, err := s.index.Insert(name, indexKey(doc, field), pk.Key, pk.Location); err != nil {
			return false, err
		}
		if err := s.tx.safepoint(ctx); err != nil {
			return false, err
		}
	}
	s.e.logger.Debug("index created", "collection", s.name, "index", name, "field", field, "entries", len(primary))
	return true, nil
}

// indexKey returns the value a document contributes to an index on field.
// Missing fields index as Null.
func indexKey(doc *document.Document, field string) document.Value {
	v, ok := doc.Lookup(field)
	if !ok {
		return document.Null()
	}
	return v
}
