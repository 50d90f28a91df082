package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/docstore/blobstore"
	"github.com/hupe1980/docstore/codec"
	"github.com/hupe1980/docstore/document"
	"github.com/hupe1980/docstore/internal/autoid"
	"github.com/hupe1980/docstore/internal/engine"
)

// IDStrategy selects how a missing _id is generated on insert.
type IDStrategy = autoid.Strategy

const (
	// ObjectID generates 12 byte ObjectIDs.
	ObjectID = autoid.ObjectID
	// Int32 generates collection-scoped, strictly increasing int32 ids.
	Int32 = autoid.Int32
	// Int64 generates collection-scoped, strictly increasing int64 ids.
	Int64 = autoid.Int64
	// GUID generates random version 4 UUIDs.
	GUID = autoid.GUID
	// KSUID generates time-sortable KSUID strings.
	KSUID = autoid.KSUID
	// NoID disables generation; every document must carry an _id.
	NoID = autoid.None
)

type (
	// Transaction groups writes to several collections into one atomic unit.
	// See DB.RunInTransaction.
	Transaction = engine.Transaction
	// Stats describes the page allocator and the catalog.
	Stats = engine.Stats
	// IndexDef describes an index of a collection.
	IndexDef = engine.IndexDef
)

type backendKind uint8

const (
	backendNone backendKind = iota
	backendLocal
	backendMemory
	backendRemote
)

// Backend selects where a database keeps its pages and write-ahead log.
type Backend struct {
	kind   backendKind
	dir    string
	store  blobstore.BlobStore
	walDir string
}

// Local keeps the database in dir on the local file system.
func Local(dir string) Backend {
	return Backend{kind: backendLocal, dir: dir}
}

// InMemory keeps the database in memory. Nothing survives Close.
func InMemory() Backend {
	return Backend{kind: backendMemory}
}

// Remote keeps pages in store, for example an S3 or MinIO bucket, and the
// write-ahead log in walDir on local disk. walDir is required and must be the
// same across restarts so that recovery can finish interrupted commits.
func Remote(store blobstore.BlobStore, walDir string) Backend {
	return Backend{kind: backendRemote, store: store, walDir: walDir}
}

func (b Backend) String() string {
	switch b.kind {
	case backendLocal:
		return "local"
	case backendMemory:
		return "memory"
	case backendRemote:
		return "remote"
	default:
		return "none"
	}
}

// DB is an embedded, transactional document database.
//
// All methods are safe for concurrent use. Writes to one collection are
// serialized by a collection lock; writes to different collections run in
// parallel.
type DB struct {
	eng    *engine.Engine
	logger *Logger
}

// Open opens or creates a database on the given backend.
//
// Example:
//
//	db, err := docstore.Open(docstore.Local("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
func Open(backend Backend, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	opts := o.engineOptions()

	var (
		eng *engine.Engine
		err error
	)
	switch backend.kind {
	case backendLocal:
		eng, err = engine.OpenLocal(backend.dir, opts...)
	case backendMemory:
		eng, err = engine.OpenMemory(opts...)
	case backendRemote:
		if backend.store == nil {
			err = fmt.Errorf("%w: remote backend without a store", ErrInvalidBackend)
			break
		}
		if backend.walDir == "" {
			err = fmt.Errorf("%w: remote backend without a wal directory", ErrInvalidBackend)
			break
		}
		eng, err = engine.OpenRemote(backend.store, backend.walDir, opts...)
	default:
		err = ErrInvalidBackend
	}

	ctx := context.Background()
	if err != nil {
		err = &ErrOpen{Backend: backend.String(), cause: err}
		o.logger.LogOpen(ctx, backend.String(), 0, err)
		return nil, err
	}

	db := &DB{eng: eng, logger: o.logger}
	o.logger.LogOpen(ctx, backend.String(), len(eng.Collections()), nil)
	return db, nil
}

// Close closes the database. Transactions still running fail on commit.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return translateError(db.eng.Close())
}

// Insert stores documents that must not exist yet, all or nothing, and returns
// the number inserted. Documents without an _id get one from strategy, which
// is written back into the document.
func (db *DB) Insert(ctx context.Context, collection string, docs []*document.Document, strategy IDStrategy) (int, error) {
	start := time.Now()
	n, err := db.eng.Insert(ctx, collection, docs, strategy)
	return db.logWrite(ctx, "insert", collection, len(docs), n, start, err)
}

// Update replaces documents matched by _id, all or nothing, and returns how
// many matched. Unmatched documents are skipped.
func (db *DB) Update(ctx context.Context, collection string, docs []*document.Document) (int, error) {
	start := time.Now()
	n, err := db.eng.Update(ctx, collection, docs)
	return db.logWrite(ctx, "update", collection, len(docs), n, start, err)
}

// Upsert updates documents whose _id exists and inserts the others, all or
// nothing. It returns the number of inserted documents.
func (db *DB) Upsert(ctx context.Context, collection string, docs []*document.Document, strategy IDStrategy) (int, error) {
	start := time.Now()
	n, err := db.eng.Upsert(ctx, collection, docs, strategy)
	return db.logWrite(ctx, "upsert", collection, len(docs), n, start, err)
}

// InsertOne inserts a single document and returns its _id.
func (db *DB) InsertOne(ctx context.Context, collection string, doc *document.Document, strategy IDStrategy) (document.Value, error) {
	start := time.Now()
	id, err := db.eng.InsertOne(ctx, collection, doc, strategy)
	_, err = db.logWrite(ctx, "insert", collection, 1, 1, start, err)
	return id, err
}

// UpdateOne replaces a single document and reports whether it existed.
func (db *DB) UpdateOne(ctx context.Context, collection string, doc *document.Document) (bool, error) {
	n, err := db.Update(ctx, collection, []*document.Document{doc})
	return n == 1, err
}

// UpsertOne updates or inserts a single document and reports whether it was
// inserted.
func (db *DB) UpsertOne(ctx context.Context, collection string, doc *document.Document, strategy IDStrategy) (bool, error) {
	n, err := db.Upsert(ctx, collection, []*document.Document{doc}, strategy)
	return n == 1, err
}

// Delete removes documents by _id and returns how many existed.
func (db *DB) Delete(ctx context.Context, collection string, ids ...document.Value) (int, error) {
	start := time.Now()
	n, err := db.eng.Delete(ctx, collection, ids...)
	return db.logWrite(ctx, "delete", collection, len(ids), n, start, err)
}

// EnsureIndex creates a secondary index on field unless an index with that
// name exists, and reports whether it was created. Existing documents are
// indexed in the same transaction. A unique index fails with ErrDuplicateKey
// when existing documents already share a key.
func (db *DB) EnsureIndex(ctx context.Context, collection, name, field string, unique bool) (bool, error) {
	created, err := db.eng.EnsureIndex(ctx, collection, name, field, unique)
	if err != nil {
		return false, translateError(err)
	}
	if created {
		db.logger.WithCollection(collection).InfoContext(ctx, "index created", "index", name, "field", field, "unique", unique)
	}
	return created, nil
}

// RunInTransaction runs fn in a transaction and commits it. If fn or the
// commit fails, every change of fn is rolled back. ErrTransientConflict is
// retried, so fn may run more than once.
func (db *DB) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	start := time.Now()
	err := translateError(db.eng.RunInTransaction(ctx, fn))
	db.logger.LogCommit(ctx, time.Since(start), err)
	return err
}

// FindByID returns the committed document with the given _id.
func (db *DB) FindByID(ctx context.Context, collection string, id document.Value) (*document.Document, error) {
	doc, err := db.eng.FindByID(ctx, collection, id)
	return doc, translateError(err)
}

// Find returns the committed documents whose indexed field equals key, in
// _id order.
func (db *DB) Find(ctx context.Context, collection, index string, key document.Value) ([]*document.Document, error) {
	docs, err := db.eng.Find(ctx, collection, index, key)
	return docs, translateError(err)
}

// Count returns the number of committed documents. A missing collection
// counts zero.
func (db *DB) Count(ctx context.Context, collection string) (int64, error) {
	n, err := db.eng.Count(ctx, collection)
	return n, translateError(err)
}

// Indexes returns the index definitions of a collection, the primary index
// first.
func (db *DB) Indexes(ctx context.Context, collection string) ([]IndexDef, error) {
	defs, err := db.eng.Indexes(ctx, collection)
	return defs, translateError(err)
}

// Collections returns the names of all collections in sorted order.
func (db *DB) Collections() []string { return db.eng.Collections() }

// Stats returns storage statistics.
func (db *DB) Stats() Stats { return db.eng.Stats() }

// Codec returns the document codec the database was created with.
func (db *DB) Codec() codec.Codec { return db.eng.Codec() }

func (db *DB) logWrite(ctx context.Context, op, collection string, docs, n int, start time.Time, err error) (int, error) {
	err = translateError(err)
	db.logger.LogWrite(ctx, op, collection, docs, n, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return n, nil
}
