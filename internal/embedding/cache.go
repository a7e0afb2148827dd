package embedding

import (
	"container/list"
	"sync"
)

// lruCache is a fixed-capacity LRU keyed by string. onEvict, if set, is called
// outside the lock for every entry pushed out by Set.
type lruCache[V any] struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
	onEvict  func(key string, value V)
}

type cacheEntry[V any] struct {
	key   string
	value V
}

func newLRUCache[V any](capacity int, onEvict func(string, V)) *lruCache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

// Get returns the cached value for key and marks it most recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// Set stores value for key, evicting the least recently used entry if at capacity.
func (c *lruCache[V]) Set(key string, value V) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry[V]).value = value
		c.mu.Unlock()
		return
	}

	elem := c.order.PushFront(&cacheEntry[V]{key: key, value: value})
	c.items[key] = elem

	var evicted *cacheEntry[V]
	if c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			evicted = oldest.Value.(*cacheEntry[V])
			delete(c.items, evicted.key)
		}
	}
	c.mu.Unlock()

	if evicted != nil && c.onEvict != nil {
		c.onEvict(evicted.key, evicted.value)
	}
}

// Len returns the number of cached entries.
func (c *lruCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Drain removes every entry, calling onEvict for each.
func (c *lruCache[V]) Drain() {
	c.mu.Lock()
	entries := make([]*cacheEntry[V], 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		entries = append(entries, e.Value.(*cacheEntry[V]))
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	if c.onEvict == nil {
		return
	}
	for _, e := range entries {
		c.onEvict(e.key, e.value)
	}
}
