package rules

import "sync"

// Cache keeps compiled programs between evaluations.
type Cache interface {
	Load(key string) (any, bool)
	Store(key string, program any)
}

// DefaultCacheSize bounds the cache NewEngines creates when none is given.
const DefaultCacheSize = 256

// BoundedCache is a Cache that evicts its oldest entry once full.
type BoundedCache struct {
	mu    sync.Mutex
	limit int
	order []string
	items map[string]any
}

// NewCache returns a cache holding at most limit programs. A limit of zero
// or less never evicts.
func NewCache(limit int) *BoundedCache {
	return &BoundedCache{limit: limit, items: map[string]any{}}
}

// Load implements Cache.
func (c *BoundedCache) Load(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	program, ok := c.items[key]
	return program, ok
}

// Store implements Cache.
func (c *BoundedCache) Store(key string, program any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		if c.limit > 0 && len(c.order) >= c.limit {
			delete(c.items, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.items[key] = program
}

// Len reports how many programs are cached.
func (c *BoundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
