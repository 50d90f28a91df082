// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("databases/users/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	db, err := docstore.Open(ctx, docstore.Remote(store, walDir))
//
// Pages are small and written whole, so every Put is a single PutObject.
// Reads use ranged GETs. For multiple writers sharing a prefix, wrap the
// store in a DDBCommitStore so header updates become conditional writes.
package s3
