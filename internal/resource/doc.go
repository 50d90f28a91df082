// Package resource implements the Controller for global limits.
//
// The Controller manages three resource types:
//
//   - Memory: dirty transaction pages and cached pages share one budget
//   - Concurrency: the number of parallel page writers during commit
//   - IO: a token bucket for page store writes
//
// # Memory Management
//
// TryAcquireMemory is non-blocking and reports false when the limit would be
// exceeded. Transactions use this signal to spill dirty pages to the
// write-ahead log at the next safepoint:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	})
//
//	if !rc.TryAcquireMemory(4096) {
//	    // spill at the next safepoint
//	}
//	defer rc.ReleaseMemory(4096)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
