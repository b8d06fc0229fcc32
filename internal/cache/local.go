package cache

import "sync"

// Local is a bounded in-process map with insert-if-absent semantics: once a
// key is stored its value is never replaced. When full, the oldest entry is
// evicted.
type Local[K comparable, V any] struct {
	mu    sync.Mutex
	max   int
	items map[K]V
	order []K
}

// NewLocal creates a cache holding at most max entries; max <= 0 means
// unbounded.
func NewLocal[K comparable, V any](max int) *Local[K, V] {
	return &Local[K, V]{
		max:   max,
		items: make(map[K]V),
	}
}

func (c *Local[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[k]
	return v, ok
}

// PutIfAbsent stores v unless k is already present, and returns the value
// held for k afterwards.
func (c *Local[K, V]) PutIfAbsent(k K, v V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[k]; ok {
		return existing
	}
	if c.max > 0 && len(c.items) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[k] = v
	c.order = append(c.order, k)
	return v
}

func (c *Local[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge drops every entry.
func (c *Local[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
	c.order = nil
}
