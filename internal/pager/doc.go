// Package pager implements page allocation, transactional page writes and
// crash recovery on top of a blobstore.BlobStore and a write-ahead log.
//
// # Commit protocol
//
//  1. Remaining dirty pages are appended to the WAL.
//  2. A commit record lists the pages of the transaction and carries the new
//     header. The WAL is synced; the transaction is now durable.
//  3. Pages and then the header are written to the blob store.
//  4. The in-memory state is updated and the caller's publish hook runs.
//
// On open, commit records found in the WAL are replayed in order. Page
// records of transactions without a commit record are discarded.
package pager
