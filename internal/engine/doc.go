// Package engine implements the transactional write path of docstore.
//
// A Transaction owns one Snapshot per collection it touches. Creating a
// write snapshot takes the collection lock, so there is at most one writer
// per collection; a lock that cannot be taken in time fails with
// ErrTransientConflict, which RunInTransaction retries.
//
// Inside a snapshot, the IndexService keeps ordered copy-on-write trees (the
// primary index on _id first) and the DataService stores serialized
// documents in page chains. Every document operation writes data first, then
// index entries. Safepoints between documents honor cancellation and move
// dirty pages to the write-ahead log when memory runs short.
//
// Index trees are persisted as range nodes, one page chain each. Commit
// rewrites only the nodes whose range changed plus the collection metadata,
// hands all pages to the pager and swaps the committed collection states
// while the pager publishes. A failed transaction leaves
// neither pages nor state behind.
package engine
