// Package cache implements the TTL+LRU task-result cache of spec §4.7.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Stats reports the cache's lifetime counters (spec §4.7).
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	HitRate   float64
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Options configures a Cache.
type Options struct {
	MaxEntries        int
	TTL               time.Duration
	SlidingExpiration bool
}

// DefaultOptions returns sensible defaults: 500 entries, 5-minute TTL,
// sliding expiration enabled (spec §4.7: "slidingExpiration (default
// true)").
func DefaultOptions() Options {
	return Options{MaxEntries: 500, TTL: 5 * time.Minute, SlidingExpiration: true}
}

// Cache is a TTL+LRU cache. get on a hit moves the entry to MRU position
// and, with sliding expiration, extends its expiresAt.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	items   map[string]*list.Element // key -> element holding *entry
	order   *list.List                // MRU at front, LRU at back
	hits    int64
	misses  int64
	evicted int64
}

// New builds a Cache.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 500
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &Cache{
		opts:  opts,
		items: map[string]*list.Element{},
		order: list.New(),
	}
}

// Get returns (value, true) if key is present and unexpired, else
// (nil, false). An expired entry is removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}

	c.hits++
	if c.opts.SlidingExpiration {
		e.expiresAt = time.Now().Add(c.opts.TTL)
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Set inserts or replaces key, evicting from the LRU end until the cache
// fits within MaxEntries.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = time.Now().Add(c.opts.TTL)
		c.order.MoveToFront(el)
		return
	}

	e := &entry{key: key, value: value, expiresAt: time.Now().Add(c.opts.TTL)}
	el := c.order.PushFront(e)
	c.items[key] = el

	for c.order.Len() > c.opts.MaxEntries {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
		c.evicted++
	}
}

// removeElement deletes el from both the map and the list. Caller holds mu.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicted,
		Size:      c.order.Len(),
		HitRate:   rate,
	}
}

// TaskKey returns the first 16 hex characters of sha-256([agent ":"] +
// task) (spec §4.7).
func TaskKey(task string, agentName string) string {
	input := task
	if agentName != "" {
		input = agentName + ":" + task
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}
