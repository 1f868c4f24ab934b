package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

// LRUCache is an in-process tool result cache bounded by entry count. Entries
// carry an optional expiry that is checked lazily on read.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	now      func() time.Time
}

type lruEntry struct {
	key     string
	payload []byte
	expires time.Time // zero never expires
}

func (e *lruEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewLRUCache returns a cache holding at most capacity payloads.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: max(1, capacity),
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the payload for key and marks it recently used.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if e.expired(c.now()) {
		c.drop(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.payload, true
}

// Set stores payload under key, evicting the least recently used entry when
// full. ttl <= 0 never expires.
func (c *LRUCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.payload, e.expires = payload, expires
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&lruEntry{key: key, payload: payload, expires: expires})
	for c.order.Len() > c.capacity {
		c.drop(c.order.Back())
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
	return nil
}

// Len counts stored entries, including expired ones not yet read.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache) drop(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*lruEntry).key)
}

var _ ports.Cache = (*LRUCache)(nil)
