package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/autoid"
)

// Insert inserts documents into collection in a single transaction and
// returns the number of inserted documents.
func (e *Engine) Insert(ctx context.Context, collection string, docs []*document.Document, strategy autoid.Strategy) (int, error) {
	if err := validateDocs(collection, docs, func(doc *document.Document) error {
		return autoid.Check(doc, strategy)
	}); err != nil {
		return 0, err
	}

	start := time.Now()
	var n int
	err := e.RunInTransaction(ctx, func(tx *Transaction) (err error) {
		n, err = tx.Insert(ctx, collection, docs, strategy)
		return err
	})
	return e.observeWrite("insert", collection, n, start, err)
}

// Update replaces documents matched by _id and returns how many matched.
func (e *Engine) Update(ctx context.Context, collection string, docs []*document.Document) (int, error) {
	if err := validateDocs(collection, docs, func(doc *document.Document) error {
		if _, ok := doc.ID(); !ok {
			return fmt.Errorf("%w: update requires an _id", ErrInvalidArgument)
		}
		return autoid.Check(doc, autoid.None)
	}); err != nil {
		return 0, err
	}

	start := time.Now()
	var n int
	err := e.RunInTransaction(ctx, func(tx *Transaction) (err error) {
		n, err = tx.Update(ctx, collection, docs)
		return err
	})
	return e.observeWrite("update", collection, n, start, err)
}

// Upsert updates the documents whose _id exists and inserts the rest. It
// returns the number of inserted documents.
func (e *Engine) Upsert(ctx context.Context, collection string, docs []*document.Document, strategy autoid.Strategy) (int, error) {
	if err := validateDocs(collection, docs, func(doc *document.Document) error {
		return autoid.Check(doc, strategy)
	}); err != nil {
		return 0, err
	}

	start := time.Now()
	var n int
	err := e.RunInTransaction(ctx, func(tx *Transaction) (err error) {
		n, err = tx.Upsert(ctx, collection, docs, strategy)
		return err
	})
	return e.observeWrite("upsert", collection, n, start, err)
}

// InsertOne inserts a single document and returns its _id.
func (e *Engine) InsertOne(ctx context.Context, collection string, doc *document.Document, strategy autoid.Strategy) (document.Value, error) {
	if _, err := e.Insert(ctx, collection, []*document.Document{doc}, strategy); err != nil {
		return document.Value{}, err
	}
	id, _ := doc.ID()
	return id, nil
}

// UpdateOne replaces a single document and reports whether it existed.
func (e *Engine) UpdateOne(ctx context.Context, collection string, doc *document.Document) (bool, error) {
	n, err := e.Update(ctx, collection, []*document.Document{doc})
	return n == 1, err
}

// UpsertOne updates or inserts a single document and reports whether it was
// inserted.
func (e *Engine) UpsertOne(ctx context.Context, collection string, doc *document.Document, strategy autoid.Strategy) (bool, error) {
	n, err := e.Upsert(ctx, collection, []*document.Document{doc}, strategy)
	return n == 1, err
}

// Delete removes documents by _id and returns how many existed.
func (e *Engine) Delete(ctx context.Context, collection string, ids ...document.Value) (int, error) {
	if err := validateCollectionName(collection); err != nil {
		return 0, err
	}

	start := time.Now()
	var n int
	err := e.RunInTransaction(ctx, func(tx *Transaction) (err error) {
		n, err = tx.Delete(ctx, collection, ids)
		return err
	})
	return e.observeWrite("delete", collection, n, start, err)
}

// EnsureIndex creates a secondary index if it does not exist yet and reports
// whether it was created.
func (e *Engine) EnsureIndex(ctx context.Context, collection, name, field string, unique bool) (bool, error) {
	if err := validateCollectionName(collection); err != nil {
		return false, err
	}

	var created bool
	err := e.RunInTransaction(ctx, func(tx *Transaction) (err error) {
		created, err = tx.EnsureIndex(ctx, collection, name, field, unique)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (e *Engine) observeWrite(op, collection string, n int, start time.Time, err error) (int, error) {
	duration := time.Since(start)
	e.metrics.OnWrite(op, collection, n, duration, err)
	if err != nil {
		e.logger.Debug("write failed", "op", op, "collection", collection, "error", err)
		return 0, err
	}
	e.logger.Debug("write", "op", op, "collection", collection, "docs", n, "duration", duration)
	return n, nil
}

// validateDocs rejects malformed input before a transaction is started.
func validateDocs(collection string, docs []*document.Document, check func(*document.Document) error) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	for i, doc := range docs {
		if doc == nil {
			return fmt.Errorf("%w: document %d is nil", ErrInvalidArgument, i)
		}
		if err := check(doc); err != nil {
			return fmt.Errorf("document %d: %w", i, translate(err))
		}
	}
	return nil
}
