package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/tidwall/btree"

	"github.com/hupe1980/docstore/codec"
	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/pager"
)

// Index trees are stored as nodes, one page chain each. A node covers a key
// range: leaves hold the index entries of the range, inner nodes hold one
// entry per child carrying the child's low bound and chain. A commit rewrites
// the leaves whose range saw a change and the inner nodes whose child list
// changed, so its cost follows the size of the change, not of the index.

// maxIndexDepth bounds the node levels accepted when loading an index.
const maxIndexDepth = 32

// nodeRef is a persisted index node: the first entry of its range and the
// location of its chain.
type nodeRef struct {
	low Entry
	loc Location
}

// indexLayout mirrors the persisted nodes of an index, one sorted slice per
// level. levels[0] holds the leaves, the last level holds only the root. An
// index that was never written has no levels.
type indexLayout struct {
	levels [][]nodeRef
}

func (l indexLayout) root() Location {
	if len(l.levels) == 0 {
		return InvalidLocation
	}
	return l.levels[len(l.levels)-1][0].loc
}

// clone copies the level slices so that a commit can rewrite them while the
// committed layout stays intact.
func (l indexLayout) clone() indexLayout {
	out := indexLayout{levels: make([][]nodeRef, len(l.levels))}
	for i, refs := range l.levels {
		out.levels[i] = slices.Clone(refs)
	}
	return out
}

// position returns the node of refs whose range holds e: the last node with
// a low bound not above e. Entries below every bound belong to node 0.
func position(refs []nodeRef, e Entry) int {
	i := sort.Search(len(refs), func(j int) bool { return entryLess(e, refs[j].low) })
	return max(0, i-1)
}

func minEntry() Entry {
	return Entry{Key: document.MinValue(), PK: document.MinValue()}
}

// lowOf returns the bound of a node holding items.
func lowOf(items []Entry) Entry {
	if len(items) == 0 {
		return minEntry()
	}
	return Entry{Key: items[0].Key, PK: items[0].PK}
}

func sameBound(a, b Entry) bool {
	return !entryLess(a, b) && !entryLess(b, a)
}

func encodeNode(c codec.Codec, level int, items []Entry) ([]byte, error) {
	values := make([]document.Value, len(items))
	for i, e := range items {
		values[i] = document.Doc(document.New(
			document.Field{Name: "k", Value: e.Key},
			document.Field{Name: "p", Value: e.PK},
			document.Field{Name: "l", Value: document.Int64(int64(e.Location))},
		))
	}
	return c.Marshal(document.New(
		document.Field{Name: "lvl", Value: document.Int32(int32(level))},
		document.Field{Name: "entries", Value: document.Array(values...)},
	))
}

func decodeNode(c codec.Codec, data []byte) (int, []Entry, error) {
	var doc document.Document
	if err := c.Unmarshal(data, &doc); err != nil {
		return 0, nil, fmt.Errorf("%w: decode index node: %w", ErrCorrupt, err)
	}
	lv, _ := doc.Get("lvl")
	level, ok := lv.AsInt32()
	if !ok || level < 0 || level >= maxIndexDepth {
		return 0, nil, fmt.Errorf("%w: index node without level", ErrCorrupt)
	}
	v, _ := doc.Get("entries")
	values, ok := v.AsArray()
	if !ok {
		return 0, nil, fmt.Errorf("%w: index node without entries", ErrCorrupt)
	}

	items := make([]Entry, 0, len(values))
	for _, item := range values {
		d, ok := item.AsDocument()
		if !ok {
			return 0, nil, fmt.Errorf("%w: malformed index entry", ErrCorrupt)
		}
		key, _ := d.Get("k")
		pk, _ := d.Get("p")
		lv, _ := d.Get("l")
		loc, ok := lv.AsInt64()
		if !ok || loc <= 0 {
			return 0, nil, fmt.Errorf("%w: index entry without location", ErrCorrupt)
		}
		items = append(items, Entry{Key: key, PK: pk, Location: Location(loc)})
	}
	return int(level), items, nil
}

// loadIndex reads the nodes below root into a tree and records their layout.
func loadIndex(ctx context.Context, c codec.Codec, pages pageSource, root Location) (*btree.BTreeG[Entry], indexLayout, error) {
	tree := newTree()
	var lay indexLayout

	var walk func(loc Location, low *Entry, want int) error
	walk = func(loc Location, low *Entry, want int) error {
		data, _, err := readChain(ctx, pages, pager.PageTypeIndex, loc)
		if err != nil {
			return err
		}
		level, items, err := decodeNode(c, data)
		if err != nil {
			return err
		}
		if want >= 0 && level != want {
			return fmt.Errorf("%w: index node %d is on level %d, want %d", ErrCorrupt, loc, level, want)
		}
		if lay.levels == nil {
			lay.levels = make([][]nodeRef, level+1)
		}

		ref := nodeRef{low: lowOf(items), loc: loc}
		if low != nil {
			ref.low = *low
		}
		lay.levels[level] = append(lay.levels[level], ref)

		if level == 0 {
			for _, e := range items {
				tree.Set(e)
			}
			return nil
		}
		for _, child := range items {
			bound := Entry{Key: child.Key, PK: child.PK}
			if err := walk(child.Location, &bound, level-1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, nil, -1); err != nil {
		return nil, indexLayout{}, err
	}
	return tree, lay, nil
}

// indexWriter writes index nodes through the data service of a snapshot.
type indexWriter struct {
	svc   *DataService
	codec codec.Codec
	limit int
}

// pack splits items into runs whose encoding fits one page. A single entry
// larger than a page keeps a chain of its own.
func (w *indexWriter) pack(level int, items []Entry) ([][]Entry, [][]byte, error) {
	data, err := encodeNode(w.codec, level, items)
	if err != nil {
		return nil, nil, err
	}
	if len(data) <= w.limit || len(items) <= 1 {
		return [][]Entry{items}, [][]byte{data}, nil
	}
	mid := len(items) / 2
	lr, ld, err := w.pack(level, items[:mid])
	if err != nil {
		return nil, nil, err
	}
	rr, rd, err := w.pack(level, items[mid:])
	if err != nil {
		return nil, nil, err
	}
	return append(lr, rr...), append(ld, rd...), nil
}

// fanout estimates how many of items fill a node, from a sample.
func (w *indexWriter) fanout(level int, items []Entry) (int, error) {
	sample := items[:min(len(items), 32)]
	data, err := encodeNode(w.codec, level, sample)
	if err != nil {
		return 0, err
	}
	per := max(1, len(data)/max(1, len(sample)))
	return max(1, w.limit*7/8/per), nil
}

// build writes items as a new level of nodes. It always writes at least one
// node.
func (w *indexWriter) build(ctx context.Context, level int, items []Entry) ([]nodeRef, error) {
	if len(items) == 0 {
		repl, err := w.write(ctx, level, InvalidLocation, nil)
		return repl, err
	}
	var refs []nodeRef
	for start := 0; start < len(items); {
		n, err := w.fanout(level, items[start:])
		if err != nil {
			return nil, err
		}
		end := min(len(items), start+n)
		repl, err := w.write(ctx, level, InvalidLocation, items[start:end])
		if err != nil {
			return nil, err
		}
		refs = append(refs, repl...)
		start = end
	}
	return refs, nil
}

// write stores items as one or more nodes. The first node reuses the chain
// at loc when there is one.
func (w *indexWriter) write(ctx context.Context, level int, loc Location, items []Entry) ([]nodeRef, error) {
	runs, datas, err := w.pack(level, items)
	if err != nil {
		return nil, err
	}
	out := make([]nodeRef, 0, len(runs))
	for i, data := range datas {
		var at Location
		if i == 0 && loc != InvalidLocation {
			at, err = w.svc.Update(ctx, loc, data)
		} else {
			at, err = w.svc.Insert(ctx, data)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, nodeRef{low: lowOf(runs[i]), loc: at})
	}
	return out, nil
}

// rangeItems returns the content of node j of refs after the change: the
// items between its low bound and the bound of node j+1. Node 0 has no lower
// bound.
type rangeItems func(lo Entry, hi *Entry, first bool) []Entry

// update rewrites the nodes of a level that hold a touched entry. It returns
// the bounds the parent level must revisit because a child moved, split,
// vanished or changed its bound.
func (w *indexWriter) update(ctx context.Context, lay *indexLayout, level int, touched []Entry, items rangeItems) ([]Entry, error) {
	refs := lay.levels[level]
	dirty := make([]int, 0, len(touched))
	for _, e := range touched {
		dirty = append(dirty, position(refs, e))
	}
	slices.Sort(dirty)
	dirty = slices.Compact(dirty)

	out := make([]nodeRef, 0, len(refs)+len(dirty))
	var up []Entry
	next := 0
	for _, j := range dirty {
		out = append(out, refs[next:j]...)
		next = j + 1

		var hi *Entry
		if j+1 < len(refs) {
			hi = &refs[j+1].low
		}
		content := items(refs[j].low, hi, j == 0)

		// Node 0 stays even when empty so that every level keeps a node.
		if len(content) == 0 && j > 0 {
			if err := w.svc.Delete(ctx, refs[j].loc); err != nil {
				return nil, err
			}
			up = append(up, refs[j].low)
			continue
		}
		repl, err := w.write(ctx, level, refs[j].loc, content)
		if err != nil {
			return nil, err
		}
		out = append(out, repl...)
		if len(repl) != 1 || repl[0].loc != refs[j].loc || !sameBound(repl[0].low, refs[j].low) {
			up = append(up, refs[j].low)
			for _, r := range repl {
				up = append(up, r.low)
			}
		}
	}
	out = append(out, refs[next:]...)
	lay.levels[level] = out
	return up, nil
}

func leafItems(tree *btree.BTreeG[Entry]) rangeItems {
	return func(lo Entry, hi *Entry, first bool) []Entry {
		var out []Entry
		iter := func(e Entry) bool {
			if hi != nil && !entryLess(e, *hi) {
				return false
			}
			out = append(out, e)
			return true
		}
		if first {
			tree.Scan(iter)
		} else {
			tree.Ascend(lo, iter)
		}
		return out
	}
}

func childEntries(children []nodeRef) []Entry {
	out := make([]Entry, len(children))
	for i, c := range children {
		out[i] = Entry{Key: c.low.Key, PK: c.low.PK, Location: c.loc}
	}
	return out
}

func innerItems(children []nodeRef) rangeItems {
	return func(lo Entry, hi *Entry, first bool) []Entry {
		start := 0
		if !first {
			start = sort.Search(len(children), func(i int) bool { return !entryLess(children[i].low, lo) })
		}
		end := len(children)
		if hi != nil {
			end = start + sort.Search(len(children)-start, func(i int) bool { return !entryLess(children[start+i].low, *hi) })
		}
		return childEntries(children[start:end])
	}
}

// persistIndex writes the changes of index i and records its root.
func (s *Snapshot) persistIndex(ctx context.Context, i int) error {
	w := &indexWriter{
		svc:   &DataService{snap: s, typ: pager.PageTypeIndex},
		codec: s.e.codec,
		limit: s.ptx.Capacity(),
	}
	tree := s.trees[i]
	lay := s.layouts[i].clone()

	if len(lay.levels) == 0 {
		all := make([]Entry, 0, tree.Len())
		tree.Scan(func(e Entry) bool {
			all = append(all, e)
			return true
		})
		leaves, err := w.build(ctx, 0, all)
		if err != nil {
			return err
		}
		lay.levels = [][]nodeRef{leaves}
	} else {
		touched := s.touched[i]
		for level := 0; level < len(lay.levels) && len(touched) > 0; level++ {
			items := leafItems(tree)
			if level > 0 {
				items = innerItems(lay.levels[level-1])
			}
			var err error
			if touched, err = w.update(ctx, &lay, level, touched, items); err != nil {
				return err
			}
		}
	}

	for top := lay.levels[len(lay.levels)-1]; len(top) > 1; top = lay.levels[len(lay.levels)-1] {
		if len(lay.levels) >= maxIndexDepth {
			return fmt.Errorf("%w: index %q is too deep", ErrStorageExhausted, s.meta.Indexes[i].Name)
		}
		parents, err := w.build(ctx, len(lay.levels), childEntries(top))
		if err != nil {
			return err
		}
		lay.levels = append(lay.levels, parents)
	}
	// A root with a single child is dropped.
	for len(lay.levels) > 1 && len(lay.levels[len(lay.levels)-2]) == 1 {
		if err := w.svc.Delete(ctx, lay.root()); err != nil {
			return err
		}
		lay.levels = lay.levels[:len(lay.levels)-1]
	}

	s.layouts[i] = lay
	s.touched[i] = nil
	s.meta.Indexes[i].Root = lay.root()
	return nil
}
