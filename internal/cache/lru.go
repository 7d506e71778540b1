// Package cache provides the derived-state caches: resolved threshold
// maps, active rule sets, the obligation catalog and the fixed-window
// counters behind rate limiting.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LRUCache is a thread-safe in-process cache with per-entry TTL and
// least-recently-used eviction. It serves the Community tier on its own
// and the local phase of the two-phase cache.
type LRUCache struct {
	mu      sync.RWMutex
	max     int
	entries map[string]*list.Element
	order   *list.List
	windows map[string]*counterWindow
}

// lruItem is one cached value. The key carries the tenant namespace so
// eviction can unlink the map entry from the list element alone.
type lruItem struct {
	key      string
	val      []byte
	deadline time.Time
}

// counterWindow is one fixed rate-limit window.
type counterWindow struct {
	n       int64
	resetAt time.Time
}

// NewLRUCache creates an LRU cache holding at most max entries.
func NewLRUCache(max int) *LRUCache {
	if max <= 0 {
		max = 10000
	}
	return &LRUCache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		windows: make(map[string]*counterWindow),
	}
}

// Get returns the cached value, or nil on a miss. Expired entries are
// dropped on read.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[c.nsKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	item := elem.Value.(*lruItem)
	if time.Now().After(item.deadline) {
		c.drop(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return item.val, nil
}

// Set stores a value under the tenant's key, evicting the least
// recently used entries when the cache is full.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	full := c.nsKey(tenantID, key)
	deadline := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[full]; ok {
		c.order.MoveToFront(elem)
		item := elem.Value.(*lruItem)
		item.val = value
		item.deadline = deadline
		return nil
	}

	c.entries[full] = c.order.PushFront(&lruItem{key: full, val: value, deadline: deadline})
	for c.order.Len() > c.max {
		c.evictOldest()
	}

	return nil
}

// Delete removes a single key.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[c.nsKey(tenantID, key)]; ok {
		c.drop(elem)
	}
	return nil
}

// DeleteByPrefix removes every tenant key under the prefix. Linear over
// the cache, which is fine at LRU sizes.
func (c *LRUCache) DeleteByPrefix(ctx context.Context, tenantID string, prefix string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	nsPrefix := c.nsKey(tenantID, prefix)

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if strings.HasPrefix(key, nsPrefix) {
			c.drop(elem)
		}
	}
	return nil
}

// GetThresholdMap retrieves the cached resolved threshold map of a fiscal year.
func (c *LRUCache) GetThresholdMap(ctx context.Context, tenantID string, fyID string) (map[string]decimal.Decimal, error) {
	return getThresholdMap(ctx, c, tenantID, fyID)
}

// SetThresholdMap caches the resolved threshold map of a fiscal year.
func (c *LRUCache) SetThresholdMap(ctx context.Context, tenantID string, fyID string, m map[string]decimal.Decimal, ttl time.Duration) error {
	return setThresholdMap(ctx, c, tenantID, fyID, m, ttl)
}

// IncrementCounter bumps the tenant's counter within its fixed window
// and returns the new count. A fresh window starts at one.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := c.nsKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	w, ok := c.windows[full]
	if !ok || now.After(w.resetAt) {
		c.windows[full] = &counterWindow{n: 1, resetAt: now.Add(window)}
		return 1, nil
	}

	w.n++
	return w.n, nil
}

// Ping reports cache health. The in-process cache is always healthy.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close discards all cached state.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.windows = make(map[string]*counterWindow)
	return nil
}

// Stats returns the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.max
}

func (c *LRUCache) nsKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// drop unlinks an entry from both the recency list and the key index.
func (c *LRUCache) drop(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruItem).key)
}

func (c *LRUCache) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.drop(elem)
	}
}
