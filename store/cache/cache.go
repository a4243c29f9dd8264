// Package cache provides a TTL cache used by the store layer for read-mostly
// records (personas, style profiles, approved contacts).
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config configures a Cache.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxItems        int
	OnEviction      func(key string, value any)
}

type item struct {
	key       string
	value     any
	expiresAt time.Time
	element   *list.Element
}

// Cache is a bounded TTL cache with LRU eviction.
type Cache struct {
	mu     sync.Mutex
	items  map[string]*item
	order  *list.List
	config Config
	done   chan struct{}
	once   sync.Once
}

// New creates a cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}
	c := &Cache{
		items:  make(map[string]*item),
		order:  list.New(),
		config: config,
		done:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for _, it := range c.items {
				if now.After(it.expiresAt) {
					c.removeLocked(it)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *Cache) removeLocked(it *item) {
	delete(c.items, it.key)
	c.order.Remove(it.element)
	if c.config.OnEviction != nil {
		c.config.OnEviction(it.key, it.value)
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(it.expiresAt) {
		c.removeLocked(it)
		return nil, false
	}
	c.order.MoveToFront(it.element)
	return it.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		it.value = value
		it.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(it.element)
		return
	}
	it := &item{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	it.element = c.order.PushFront(it)
	c.items[key] = it

	for len(c.items) > c.config.MaxItems {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*item))
	}
}

// Delete removes a key. Used for explicit invalidation on write.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.removeLocked(it)
	}
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}
