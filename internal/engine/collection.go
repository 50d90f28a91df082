package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/btree"

	"github.com/hupe1980/docstore/codec"
	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/pager"
)

// PrimaryIndex is the name of the index on _id. It is always the first index
// of a collection.
const PrimaryIndex = document.IDField

// Location is a handle to stored bytes: the first page of a page chain.
type Location = pager.PageID

// InvalidLocation is the zero handle.
const InvalidLocation = pager.InvalidPage

// IndexDef describes an index of a collection.
type IndexDef struct {
	Name   string   `bson:"name"`
	Field  string   `bson:"field"`
	Unique bool     `bson:"unique"`
	Root   Location `bson:"root"`
}

// CollectionMeta is the persisted description of a collection.
type CollectionMeta struct {
	Name string `bson:"name"`
	// Count is the number of live documents.
	Count int64 `bson:"count"`
	// Sequence is the high-water mark of integer ids.
	Sequence int64      `bson:"sequence"`
	Indexes  []IndexDef `bson:"indexes"`
}

// collectionState is a committed or in-flight view of a collection. Index
// trees and their persisted layouts are parallel to meta.Indexes.
type collectionState struct {
	meta    CollectionMeta
	metaLoc Location
	trees   []*btree.BTreeG[Entry]
	layouts []indexLayout
}

func newCollectionState(name string) *collectionState {
	return &collectionState{
		meta: CollectionMeta{
			Name:    name,
			Indexes: []IndexDef{{Name: PrimaryIndex, Field: document.IDField, Unique: true}},
		},
		trees:   []*btree.BTreeG[Entry]{newTree()},
		layouts: []indexLayout{{}},
	}
}

// clone copies the state. Trees are copied in O(1) and diverge on write;
// layouts are replaced, never modified, when a commit rewrites them.
func (st *collectionState) clone() *collectionState {
	out := &collectionState{
		meta:    st.meta,
		metaLoc: st.metaLoc,
		trees:   make([]*btree.BTreeG[Entry], len(st.trees)),
		layouts: slices.Clone(st.layouts),
	}
	out.meta.Indexes = slices.Clone(st.meta.Indexes)
	for i, t := range st.trees {
		out.trees[i] = t.Copy()
	}
	return out
}

func validateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}
	if strings.HasPrefix(name, "$") {
		return fmt.Errorf("%w: collection name %q is reserved", ErrInvalidArgument, name)
	}
	return nil
}

// loadCollection reads a committed collection: metadata first, then every
// index it lists.
func loadCollection(ctx context.Context, c codec.Codec, pages pageSource, root Location) (*collectionState, error) {
	data, _, err := readChain(ctx, pages, pager.PageTypeCollection, root)
	if err != nil {
		return nil, err
	}
	st := &collectionState{metaLoc: root}
	if err := c.Unmarshal(data, &st.meta); err != nil {
		return nil, fmt.Errorf("%w: decode collection: %w", ErrCorrupt, err)
	}
	if len(st.meta.Indexes) == 0 || st.meta.Indexes[0].Name != PrimaryIndex {
		return nil, fmt.Errorf("%w: collection %q has no primary index", ErrCorrupt, st.meta.Name)
	}

	st.trees = make([]*btree.BTreeG[Entry], len(st.meta.Indexes))
	st.layouts = make([]indexLayout, len(st.meta.Indexes))
	for i, def := range st.meta.Indexes {
		if def.Root == InvalidLocation {
			st.trees[i] = newTree()
			continue
		}
		if st.trees[i], st.layouts[i], err = loadIndex(ctx, c, pages, def.Root); err != nil {
			return nil, fmt.Errorf("index %q: %w", def.Name, err)
		}
	}
	if got := int64(st.trees[0].Len()); got != st.meta.Count {
		return nil, fmt.Errorf("%w: collection %q counts %d documents, primary index has %d", ErrCorrupt, st.meta.Name, st.meta.Count, got)
	}
	return st, nil
}
