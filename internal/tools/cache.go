package tools

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheCapacity = 100
	defaultCacheTTL      = 300 * time.Second
)

// Results starting with one of these prefixes are never cached: caching a
// transient failure would keep replaying it for the TTL.
var errorResultPrefixes = []string{
	"Error:",
	"Failed:",
	"Action Blocked:",
	"ACTION CANCELLED:",
	"ACTION BLOCKED:",
}

// IsErrorResult reports whether a tool result string is an error by prefix
// convention.
func IsErrorResult(s string) bool {
	for _, p := range errorResultPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	key     string
	value   string
	tool    string
	created time.Time
}

// Cache is a fixed-capacity LRU for tool results with a per-tool TTL table.
// Tool batches run in parallel goroutines, so access is serialized.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	ll         *list.List
	entries    map[string]*list.Element
	now        func() time.Time
}

func NewCache(capacity int, defaultTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	return &Cache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		ttls:       make(map[string]time.Duration),
		ll:         list.New(),
		entries:    make(map[string]*list.Element),
		now:        time.Now,
	}
}

// SetToolTTL overrides the TTL for one tool's entries.
func (c *Cache) SetToolTTL(tool string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		c.ttls[tool] = ttl
	}
}

func (c *Cache) ttlFor(tool string) time.Duration {
	if ttl, ok := c.ttls[tool]; ok {
		return ttl
	}
	return c.defaultTTL
}

func cacheKey(tool, canonicalArgs string) string {
	return tool + "\x00" + canonicalArgs
}

// Get returns the cached result for (tool, canonicalArgs). Expired entries
// are evicted on the spot.
func (c *Cache) Get(tool, canonicalArgs string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[cacheKey(tool, canonicalArgs)]
	if !ok {
		return "", false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.created) > c.ttlFor(entry.tool) {
		c.removeLocked(el)
		return "", false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

// Set stores a result. Error-prefixed results are silently ignored so a
// transient failure never poisons the cache.
func (c *Cache) Set(tool, canonicalArgs, result string) {
	if IsErrorResult(result) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(tool, canonicalArgs)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = result
		entry.created = c.now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, value: result, tool: tool, created: c.now()})
	c.entries[key] = el
	for c.ll.Len() > c.capacity {
		c.removeLocked(c.ll.Back())
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.ll.Remove(el)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.entries = make(map[string]*list.Element)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
