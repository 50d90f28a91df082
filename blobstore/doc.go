// Package blobstore provides the storage abstraction underneath the pager.
//
// A BlobStore holds named, immutable blobs. The pager writes one blob per
// page ("pages/0000000042") plus a small "header" blob that records the
// committed state. Put must be atomic per blob; ordering between blobs is
// provided by the write-ahead log, not by the store.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, used by in-memory databases and tests
//   - LocalStore: one file per blob below a root directory
//   - s3.Store: Amazon S3 with range reads
//   - s3.DDBCommitStore: S3 plus DynamoDB conditional writes for the header
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
