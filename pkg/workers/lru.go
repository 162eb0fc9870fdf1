package workers

import "container/list"

// lruCache is a bounded least-recently-used map: a plain map for O(1)
// lookup and a doubly-linked list for recency order. Front is the most
// recently used entry, Back the least. Not safe for concurrent use;
// the Cache inherits its single-writer discipline from here.
type lruCache[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List
}

// lruEntry is the value stored in list elements. The key is kept here
// because eviction starts from list nodes.
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

func newLRUCache[K comparable, V any](capacity int) *lruCache[K, V] {
	return &lruCache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// contains reports membership without touching recency order.
func (c *lruCache[K, V]) contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// get returns the value for key and marks it most recently used.
func (c *lruCache[K, V]) get(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// push inserts or updates key as the most recently used entry. It
// returns the displaced pair: the previous value when key was already
// present, or the evicted least-recently-used entry when the insert
// grew the cache past capacity. The third result is false when nothing
// was displaced.
func (c *lruCache[K, V]) push(key K, value V) (K, V, bool) {
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry[K, V])
		old := entry.value
		entry.value = value
		c.order.MoveToFront(el)
		return key, old, true
	}

	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
	if len(c.items) > c.capacity {
		return c.popOldest()
	}
	var zk K
	var zv V
	return zk, zv, false
}

// pop removes key regardless of recency and returns its value.
func (c *lruCache[K, V]) pop(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(c.items, key)
	c.order.Remove(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// popOldest removes and returns the least recently used entry.
func (c *lruCache[K, V]) popOldest() (K, V, bool) {
	el := c.order.Back()
	if el == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	entry := el.Value.(*lruEntry[K, V])
	delete(c.items, entry.key)
	c.order.Remove(el)
	return entry.key, entry.value, true
}

// size returns the number of cached entries.
func (c *lruCache[K, V]) size() int {
	return len(c.items)
}
