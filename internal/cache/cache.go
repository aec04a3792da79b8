// Package cache holds the last value published for each item so that
// unchanged readings can be suppressed before they reach the host.
//
// Each key has its own entry and lock. A compare-and-store on one item
// never waits on another item, while two updates of the same item are
// serialised.
package cache

import (
	"sync"
	"sync/atomic"
)

// entry is one cached value. A removed entry is marked dead so that a
// writer still holding it retries against the live map.
type entry[V any] struct {
	mu    sync.Mutex
	value V
	set   bool
	dead  bool
}

// Cache maps item names to their last published value.
//
// Thread Safety: All methods are safe for concurrent use.
type Cache[V any] struct {
	entries  sync.Map // string -> *entry[V]
	suppress atomic.Bool
}

// New returns an empty cache with suppression of unchanged values enabled.
func New[V any]() *Cache[V] {
	c := &Cache[V]{}
	c.suppress.Store(true)
	return c
}

// SetSuppression enables or disables suppression of unchanged values.
// When disabled, PutIfChanged always stores and reports a change.
func (c *Cache[V]) SetSuppression(enabled bool) {
	c.suppress.Store(enabled)
}

// Suppressing reports whether unchanged values are suppressed.
func (c *Cache[V]) Suppressing() bool {
	return c.suppress.Load()
}

// Get returns the cached value for id.
func (c *Cache[V]) Get(id string) (V, bool) {
	var zero V

	v, ok := c.entries.Load(id)
	if !ok {
		return zero, false
	}
	e := v.(*entry[V]) //nolint:forcetypeassert // map only holds *entry[V]

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !e.set {
		return zero, false
	}
	return e.value, true
}

// PutIfChanged stores v for id and returns true when no value was cached or
// the cached value differs according to equal. When the values are equal
// and suppression is enabled it returns false and leaves the cache as is.
func (c *Cache[V]) PutIfChanged(id string, v V, equal func(a, b V) bool) bool {
	for {
		e := c.load(id)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		if e.set && c.suppress.Load() && equal(e.value, v) {
			e.mu.Unlock()
			return false
		}
		e.value = v
		e.set = true
		e.mu.Unlock()
		return true
	}
}

// Put stores v for id unconditionally.
func (c *Cache[V]) Put(id string, v V) {
	for {
		e := c.load(id)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		e.value = v
		e.set = true
		e.mu.Unlock()
		return
	}
}

// Remove drops the cached value for id. The next PutIfChanged for id
// reports a change.
func (c *Cache[V]) Remove(id string) {
	v, ok := c.entries.Load(id)
	if !ok {
		return
	}
	e := v.(*entry[V]) //nolint:forcetypeassert // map only holds *entry[V]

	e.mu.Lock()
	e.dead = true
	c.entries.CompareAndDelete(id, e)
	e.mu.Unlock()
}

// Clear drops every cached value.
func (c *Cache[V]) Clear() {
	c.entries.Range(func(key, _ any) bool {
		c.Remove(key.(string)) //nolint:forcetypeassert // keys are strings
		return true
	})
}

// Len returns the number of items holding a value.
func (c *Cache[V]) Len() int {
	n := 0
	c.entries.Range(func(_, v any) bool {
		e := v.(*entry[V]) //nolint:forcetypeassert // map only holds *entry[V]
		e.mu.Lock()
		if e.set && !e.dead {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// Keys returns the items currently holding a value, in no particular order.
func (c *Cache[V]) Keys() []string {
	var keys []string
	c.entries.Range(func(key, v any) bool {
		e := v.(*entry[V]) //nolint:forcetypeassert // map only holds *entry[V]
		e.mu.Lock()
		if e.set && !e.dead {
			keys = append(keys, key.(string)) //nolint:forcetypeassert // keys are strings
		}
		e.mu.Unlock()
		return true
	})
	return keys
}

func (c *Cache[V]) load(id string) *entry[V] {
	v, _ := c.entries.LoadOrStore(id, &entry[V]{})
	return v.(*entry[V]) //nolint:forcetypeassert // map only holds *entry[V]
}
