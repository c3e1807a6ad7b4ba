// Package cache implements the Cache Tier (§2.4): a short-TTL read-through
// cache fronting hot query paths (schedule queries, live-status polling).
// Purely an optimization — correctness never depends on it (§4.1 "reads
// used for authorization decisions...must bypass the cache").
//
// The eviction structure is a classic doubly-linked-list + hashmap LRU
// (O(1) Get/Set/evict), the technique used by tomtom215-cartographus's
// internal/cache/lru.go, reimplemented here from scratch against this
// module's own key/value shape and TTL semantics (not copied, since that
// repo's LRU is a different project's file).
package cache

import (
	"container/list"
	"sync"
	"time"
)

type node struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// LRU is a fixed-capacity, per-entry-TTL cache, safe for concurrent use.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

// New returns an LRU with the given capacity and default per-entry TTL.
func New(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    map[string]*list.Element{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the cached value for key, or (nil, false) if absent/expired.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	n := el.Value.(*node)
	if c.now().After(n.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	out := make([]byte, len(n.value))
	copy(out, n.value)
	return out, true
}

// Set inserts or updates key, resetting its TTL and moving it to the front.
func (c *LRU) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		n := el.Value.(*node)
		n.value = append([]byte(nil), value...)
		n.expiresAt = expires
		c.ll.MoveToFront(el)
		return
	}
	n := &node{key: key, value: append([]byte(nil), value...), expiresAt: expires}
	el := c.ll.PushFront(n)
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*node).key)
	}
}

// InvalidateAll clears every entry. Used on any slot write (§4.1 "Any
// write to a slot invalidates all entries").
func (c *LRU) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = map[string]*list.Element{}
}

// Len reports the current number of live entries (including not-yet-swept
// expired ones), mainly for tests.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
