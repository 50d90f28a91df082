package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/docstore/document"
)

// FindByID returns the committed document with the given _id.
func (e *Engine) FindByID(ctx context.Context, collection string, id document.Value) (*document.Document, error) {
	var doc *document.Document
	err := e.View(ctx, collection, func(s *Snapshot) (err error) {
		doc, err = s.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Find returns the committed documents whose value in index equals key.
func (e *Engine) Find(ctx context.Context, collection, index string, key document.Value) ([]*document.Document, error) {
	var docs []*document.Document
	err := e.View(ctx, collection, func(s *Snapshot) (err error) {
		docs, err = s.Find(ctx, index, key)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return docs, err
}

// Count returns the number of committed documents. A missing collection
// counts zero.
func (e *Engine) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := e.View(ctx, collection, func(s *Snapshot) error {
		n = s.Count()
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return n, err
}

// IndexEntries returns the committed entries of an index in key order.
func (e *Engine) IndexEntries(ctx context.Context, collection, index string) ([]Entry, error) {
	var out []Entry
	err := e.View(ctx, collection, func(s *Snapshot) (err error) {
		out, err = s.Index().Entries(index)
		return err
	})
	return out, err
}

// Indexes returns the index definitions of a collection.
func (e *Engine) Indexes(ctx context.Context, collection string) ([]IndexDef, error) {
	var defs []IndexDef
	err := e.View(ctx, collection, func(s *Snapshot) error {
		defs = s.Meta().Indexes
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexes of %q: %w", collection, err)
	}
	return defs, nil
}
