// Package lru provides a bounded least-recently-used map.
//
// Cache is not safe for concurrent use; owners guard it with their own lock so
// the LRU order and any side indexes change atomically together.
package lru

import "container/list"

// Cache is a fixed-capacity LRU map. Front of the list is most recent.
type Cache[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache holding at most capacity entries. Capacity below 1 is treated as 1.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Peek returns the value for key without touching its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

// Set inserts or overwrites key, moving it to the front. It returns the number
// of entries evicted to stay within capacity.
func (c *Cache[K, V]) Set(key K, value V) int {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(elem)
		return 0
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	return c.trim()
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(elem)
	return true
}

// DeleteFunc removes every entry for which match returns true.
func (c *Cache[K, V]) DeleteFunc(match func(K, V) bool) int {
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry[K, V])
		if match(e.key, e.value) {
			c.remove(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Resize changes the capacity and returns how many entries were evicted.
func (c *Cache[K, V]) Resize(capacity int) int {
	if capacity < 1 {
		capacity = 1
	}
	c.capacity = capacity
	return c.trim()
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int { return c.order.Len() }

// Cap returns the capacity.
func (c *Cache[K, V]) Cap() int { return c.capacity }

// Keys returns keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}

func (c *Cache[K, V]) trim() int {
	evicted := 0
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		evicted++
	}
	return evicted
}

func (c *Cache[K, V]) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
