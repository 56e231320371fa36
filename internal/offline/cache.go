// Package offline is the storefront's offline cache layer: versioned named
// caches with bounded FIFO eviction and the three fetch strategies
// (cache-first, stale-while-revalidate, network-first with offline
// fallback) applied in front of the upstream origin.
package offline

import (
	"net/http"
	"sync"
	"time"
)

// Entry is a stored response keyed by request URL.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Cache is a named response cache bounded to a maximum entry count.
// Insertion order defines eviction order: strict FIFO, not LRU, so a
// frequently reused old entry is still evicted ahead of a never-reused
// newer one. A limit of zero means unbounded.
type Cache struct {
	name  string
	limit int

	mu      sync.Mutex
	order   []string
	entries map[string]Entry
}

func NewCache(name string, limit int) *Cache {
	return &Cache{
		name:    name,
		limit:   limit,
		entries: make(map[string]Entry),
	}
}

func (c *Cache) Name() string { return c.name }

func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put stores the entry and trims the cache back to its limit, evicting the
// oldest-inserted keys first. Re-putting an existing key re-inserts it at
// the back of the queue.
func (c *Cache) Put(key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeFromOrder(key)
	}
	c.entries[key] = e
	c.order = append(c.order, key)

	if c.limit <= 0 {
		return
	}
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.removeFromOrder(key)
		delete(c.entries, key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Keys returns keys in insertion order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Storage holds all named caches. Activation drops every cache whose name
// is not one of the current version's; that wholesale purge is the only
// invalidation mechanism, there is no per-entry TTL.
type Storage struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

func NewStorage() *Storage {
	return &Storage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it with the given limit if absent.
func (s *Storage) Open(name string, limit int) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c
	}
	c := NewCache(name, limit)
	s.caches[name] = c
	return c
}

// Activate deletes every cache not named in keep and returns the names of
// the deleted caches.
func (s *Storage) Activate(keep ...string) []string {
	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for name := range s.caches {
		if !keepSet[name] {
			delete(s.caches, name)
			deleted = append(deleted, name)
		}
	}
	return deleted
}

func (s *Storage) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	return names
}
