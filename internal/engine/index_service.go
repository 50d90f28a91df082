package engine

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/hupe1980/docstore/document"
)

// Entry is an index entry. PK is only set in secondary indexes, where it
// orders entries that share a key.
type Entry struct {
	Key      document.Value
	PK       document.Value
	Location Location
}

func entryLess(a, b Entry) bool {
	if c := document.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return document.Compare(a.PK, b.PK) < 0
}

func newTree() *btree.BTreeG[Entry] {
	return btree.NewBTreeG(entryLess)
}

// IndexService maintains the ordered indexes of a snapshot. Changes are
// visible to the snapshot right away and published at commit.
type IndexService struct {
	snap *Snapshot
}

func (s *IndexService) lookup(index string) (int, error) {
	for i, def := range s.snap.meta.Indexes {
		if def.Name == index {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: collection %q has no index %q", ErrInvalidArgument, s.snap.name, index)
}

// Find returns the first entry of index with the given key.
func (s *IndexService) Find(index string, key document.Value) (Entry, bool, error) {
	if err := s.snap.usable(); err != nil {
		return Entry{}, false, err
	}
	i, err := s.lookup(index)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := s.find(i, key)
	return e, ok, nil
}

func (s *IndexService) find(i int, key document.Value) (Entry, bool) {
	var (
		found Entry
		ok    bool
	)
	s.snap.trees[i].Ascend(Entry{Key: key, PK: document.MinValue()}, func(e Entry) bool {
		found, ok = e, document.Compare(e.Key, key) == 0
		return false
	})
	return found, ok
}

// FindAll returns every entry of index with the given key, ordered by primary key.
func (s *IndexService) FindAll(index string, key document.Value) ([]Entry, error) {
	if err := s.snap.usable(); err != nil {
		return nil, err
	}
	i, err := s.lookup(index)
	if err != nil {
		return nil, err
	}
	var out []Entry
	s.snap.trees[i].Ascend(Entry{Key: key, PK: document.MinValue()}, func(e Entry) bool {
		if document.Compare(e.Key, key) != 0 {
			return false
		}
		out = append(out, e)
		return true
	})
	return out, nil
}

// Entries returns all entries of index in order.
func (s *IndexService) Entries(index string) ([]Entry, error) {
	if err := s.snap.usable(); err != nil {
		return nil, err
	}
	i, err := s.lookup(index)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, s.snap.trees[i].Len())
	s.snap.trees[i].Scan(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out, nil
}

// Insert adds an entry. Unique indexes, the primary index among them, reject
// a key that is already present with a *DuplicateKeyError.
func (s *IndexService) Insert(index string, key, pk document.Value, loc Location) (Entry, error) {
	if err := s.snap.writable(); err != nil {
		return Entry{}, err
	}
	i, err := s.lookup(index)
	if err != nil {
		return Entry{}, err
	}
	def := s.snap.meta.Indexes[i]
	if def.Unique {
		if _, dup := s.find(i, key); dup {
			return Entry{}, &DuplicateKeyError{Collection: s.snap.name, Index: def.Name, Key: key}
		}
	}

	e := Entry{Key: key.Clone(), Location: loc}
	if i > 0 {
		e.PK = pk.Clone()
	}
	s.snap.trees[i].Set(e)
	s.markDirty(i, e)
	return e, nil
}

// Remove deletes an entry. Removing an entry that does not exist means the
// index and the data disagree and fails with ErrCorrupt.
func (s *IndexService) Remove(index string, e Entry) error {
	if err := s.snap.writable(); err != nil {
		return err
	}
	i, err := s.lookup(index)
	if err != nil {
		return err
	}
	if _, ok := s.snap.trees[i].Delete(e); !ok {
		return fmt.Errorf("%w: %s.%s has no entry for %s", ErrCorrupt, s.snap.name, index, e.Key)
	}
	s.markDirty(i, e)
	return nil
}

// Update points an existing entry at a new location.
func (s *IndexService) Update(index string, e Entry, loc Location) (Entry, error) {
	if err := s.snap.writable(); err != nil {
		return Entry{}, err
	}
	i, err := s.lookup(index)
	if err != nil {
		return Entry{}, err
	}
	cur, ok := s.snap.trees[i].Get(e)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s.%s has no entry for %s", ErrCorrupt, s.snap.name, index, e.Key)
	}
	cur.Location = loc
	s.snap.trees[i].Set(cur)
	s.markDirty(i, cur)
	return cur, nil
}

// markDirty records a changed entry so that commit rewrites the node holding
// it. An index without persisted nodes is written whole.
func (s *IndexService) markDirty(i int, e Entry) {
	s.snap.dirtyIdx[i] = true
	if len(s.snap.layouts[i].levels) > 0 {
		s.snap.touched[i] = append(s.snap.touched[i], Entry{Key: e.Key, PK: e.PK})
	}
}
