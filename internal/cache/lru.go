package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/docstore/internal/resource"
)

// LRU is a byte-bounded least-recently-used cache of immutable blocks.
// Returned slices must be treated as read-only.
type LRU[K comparable] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable] struct {
	key   K
	value []byte
}

// NewLRU creates a new LRU cache with the given capacity in bytes.
// If rc is provided, it will be used to track memory usage.
func NewLRU[K comparable](capacity int64, rc *resource.Controller) *LRU[K] {
	return &LRU[K]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRU[K]) Get(key K) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry[K]).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. The cache retains b.
func (c *LRU[K]) Set(key K, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := int64(len(b))

	if ent, ok := c.items[key]; ok {
		old := ent.Value.(*entry[K])
		oldSize := int64(len(old.value))
		if itemSize > oldSize && !c.rc.TryAcquireMemory(itemSize-oldSize) {
			// The stale value must not survive a rejected update.
			c.removeElement(ent)
			return
		}
		if itemSize < oldSize {
			c.rc.ReleaseMemory(oldSize - itemSize)
		}
		c.size += itemSize - oldSize
		old.value = b
		c.evictList.MoveToFront(ent)
		c.evict()
		return
	}

	// If item is larger than capacity, don't cache
	if itemSize > c.capacity {
		return
	}

	// Evict to make space in local capacity first so memory flows back to
	// the controller before we acquire it again.
	for c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	if !c.rc.TryAcquireMemory(itemSize) {
		return
	}

	element := c.evictList.PushFront(&entry[K]{key: key, value: b})
	c.items[key] = element
	c.size += itemSize
}

// Delete removes a single entry.
func (c *LRU[K]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
}

// Invalidate removes entries matching the predicate.
func (c *LRU[K]) Invalidate(predicate func(key K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

// Purge drops every entry and returns its memory to the controller.
func (c *LRU[K]) Purge() {
	c.Invalidate(func(K) bool { return true })
}

func (c *LRU[K]) evict() {
	for c.size > c.capacity {
		element := c.evictList.Back()
		if element == nil {
			break
		}
		c.removeElement(element)
	}
}

// Stats returns hit and miss counters.
func (c *LRU[K]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K]) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry[K])
	delete(c.items, kv.key)
	itemSize := int64(len(kv.value))
	c.size -= itemSize
	c.rc.ReleaseMemory(itemSize)
}

// Size returns the current size of the cache in bytes.
func (c *LRU[K]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *LRU[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
