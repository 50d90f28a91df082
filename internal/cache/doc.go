// Package cache provides the LRU cache for committed page images.
//
// The cache is bounded by bytes and reports its memory to the shared
// resource.Controller, so cached pages and dirty transaction pages draw from
// one budget. When the controller refuses memory the cache simply does not
// admit the block.
package cache
