// Package fs provides the filesystem abstraction used by the write-ahead log,
// the local page store and the directory lock.
//
//   - [FileSystem] and [File] abstract the os calls docstore makes
//   - [LocalFS] is the production implementation ([Default])
//   - [FaultyFS] injects write, sync and rename failures in tests
//   - [Lock] takes an exclusive lock on a database directory
//
// Tests inject [FaultyFS] to simulate a crash between writing the log and
// publishing pages:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("data/header", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
//
// There is no context.Context on these calls. Local file operations are not
// interruptible at the syscall level; slow remote IO goes through
// blobstore.BlobStore, which takes a context.
package fs
