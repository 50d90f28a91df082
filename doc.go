// Package docstore is an embedded, transactional document database for Go.
//
// Documents are ordered field lists (see package document) stored in
// collections. Every write runs in a transaction that either commits all of
// its changes or none:
//
//   - Insert, Update and Upsert work on batches of documents
//   - a missing _id is generated (ObjectID, Int32, Int64, GUID, KSUID)
//   - unique secondary indexes reject duplicates with ErrDuplicateKey
//   - commits go through a write-ahead log and survive crashes
//   - pages live on local disk, in memory, or in S3/MinIO
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := docstore.Open(docstore.Local("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	id, err := db.InsertOne(ctx, "users", document.New(
//	    document.F("name", "Ada"),
//	    document.F("mail", "ada@example.com"),
//	), docstore.ObjectID)
//
// Upsert counts the documents that took the insert branch:
//
//	inserted, err := db.Upsert(ctx, "users", docs, docstore.ObjectID)
//
// # Transactions
//
// RunInTransaction groups writes to several collections:
//
//	err := db.RunInTransaction(ctx, func(tx *docstore.Transaction) error {
//	    if _, err := tx.Insert(ctx, "orders", orders, docstore.Int64); err != nil {
//	        return err
//	    }
//	    _, err := tx.Update(ctx, "stock", items)
//	    return err
//	})
//
// A transaction holds the write lock of every collection it touches until it
// ends. A lock that cannot be taken in time fails with ErrTransientConflict,
// which RunInTransaction retries with exponential backoff, so fn must be safe
// to run more than once.
//
// # Errors
//
// Match errors with errors.Is against ErrInvalidArgument, ErrDuplicateKey,
// ErrStorageExhausted, ErrTransientConflict, ErrCancelled, ErrNotFound,
// ErrClosed and ErrCorrupt. A cancelled context yields an error that matches
// both ErrCancelled and the context error.
package docstore
