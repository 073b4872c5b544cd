// Package lruttl implements the cache port with a bounded strict-LRU map
// and per-entry TTL. Providers use it for index and resource caches, where
// eviction order must be deterministic: least-recently-used entries are
// evicted on insertion overflow, a Get refreshes recency but never the TTL.
package lruttl

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key        string
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a bounded LRU cache with per-entry TTL.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time // for testing
}

// New creates a cache holding at most capacity entries. Capacity must be
// positive.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get retrieves a value. Expired entries are misses and are dropped.
// A hit moves the entry to the front of the recency order.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.insertedAt) >= e.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return e.value, true, nil
}

// Set stores a value, resetting insertion time and TTL on overwrite.
// When the cache is full, the least-recently-used entry is evicted.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.insertedAt = c.now()
		e.ttl = ttl
		c.order.MoveToFront(el)
		return nil
	}

	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*entry).key)
		}
	}

	c.items[key] = c.order.PushFront(&entry{
		key:        key,
		value:      value,
		insertedAt: c.now(),
		ttl:        ttl,
	})
	return nil
}

// Delete removes a value. Deleting a missing key is not an error.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	return nil
}

// Len returns the number of live entries, expired ones included until
// their next Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}
