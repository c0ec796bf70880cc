// Package cache holds the statistics caches the context builder reads through.
package cache

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var errKeyRequired = errors.New("cache key is required")

// Stats reports cache occupancy and effectiveness.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// LRUCache is a bounded in-process cache with per-entry expiry.
// It serves the Community tier alone and is L1 in front of Redis otherwise.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*list.Element
	recency  *list.List // front is most recently used
	stats    Stats
	now      func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most capacity entries (10000 when <= 0).
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns the live value for key, or nil on a miss.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errKeyRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem := c.lookup(key)
	if elem == nil {
		c.stats.Misses++
		return nil, nil
	}
	c.stats.Hits++
	c.recency.MoveToFront(elem)
	return elem.Value.(*entry).value, nil
}

// lookup returns the element for key, dropping it first if it has expired.
func (c *LRUCache) lookup(key string) *list.Element {
	elem, ok := c.index[key]
	if !ok {
		return nil
	}
	if !c.now().Before(elem.Value.(*entry).expiresAt) {
		c.drop(elem)
		return nil
	}
	return elem
}

// Set stores value until ttl elapses, evicting the least recently used entries when full.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errKeyRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.index[key] = c.recency.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.stats.Evictions++
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.drop(elem)
	}
	return nil
}

// DeletePrefix drops every entry whose key starts with prefix.
func (c *LRUCache) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return errKeyRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.index {
		if strings.HasPrefix(key, prefix) {
			c.drop(elem)
		}
	}
	return nil
}

func (c *LRUCache) Ping(context.Context) error { return nil }

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.recency.Init()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.recency.Len()
	s.Capacity = c.capacity
	return s
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*entry).key)
}
