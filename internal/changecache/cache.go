// Package changecache tracks the last observed value per entity so callers can
// skip redundant writes and break feedback loops between linked entities.
package changecache

import "sync"

// Cache maps keys to their last observed value. Safe for concurrent use.
type Cache[K comparable, V comparable] struct {
	mu     sync.RWMutex
	values map[K]V
}

// New creates an empty cache.
func New[K comparable, V comparable]() *Cache[K, V] {
	return &Cache[K, V]{values: make(map[K]V)}
}

// Observe stores value and reports whether it differs from the previous
// observation. The first observation of a key always counts as a change.
func (c *Cache[K, V]) Observe(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.values[key]
	if ok && last == value {
		return false
	}
	c.values[key] = value
	return true
}

// Changed reports whether value differs from the stored one without storing it.
func (c *Cache[K, V]) Changed(key K, value V) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	last, ok := c.values[key]
	return !ok || last != value
}

// Set stores value unconditionally. Used after a write so the next
// observation of the same value is not treated as an external change.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Get returns the stored value.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Forget drops a key.
func (c *Cache[K, V]) Forget(key K) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// ForgetFunc drops every key for which match returns true.
func (c *Cache[K, V]) ForgetFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.values {
		if match(k) {
			delete(c.values, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
