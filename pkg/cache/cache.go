// Package cache provides a generic expiring LRU (grounded on the
// teacher's pkg/cache `New(Options{Capacity})`/`ExpiringLRU` shape) plus a
// path-keyed byte-range cache over it for Puffin footers and hot slices
// (spec.md §4.6, component C6).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/errs"
)

// Error is this package's errs.Class.
var Error = errs.Class("cache")

// Options configures an ExpiringLRU.
type Options struct {
	Capacity   int
	Expiration time.Duration
}

type entry struct {
	value   interface{}
	expires time.Time
}

// ExpiringLRU is a capacity-bounded cache with per-entry expiration. Get
// does not collapse concurrent misses: concurrent callers for the same
// missing key each run the loader (the teacher's version doesn't collapse concurrent misses
// either; the fuzz test only requires the returned value to be
// eventually consistent).
type ExpiringLRU struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, entry]
	expiration time.Duration
}

// New returns an ExpiringLRU sized and aged per opts.
func New(opts Options) *ExpiringLRU {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	l, _ := lru.New[string, entry](capacity)
	return &ExpiringLRU{lru: l, expiration: opts.Expiration}
}

// Get returns the cached value for key, invoking load on a miss or an
// expired entry and caching its result (including errors are not cached;
// only successful loads are stored).
func (c *ExpiringLRU) Get(key string, load func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok {
		if c.expiration <= 0 || time.Now().Before(e.expires) {
			c.mu.Unlock()
			return e.value, nil
		}
	}
	c.mu.Unlock()

	value, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lru.Add(key, entry{value: value, expires: time.Now().Add(c.expiration)})
	c.mu.Unlock()

	return value, nil
}

// Remove evicts key, if present.
func (c *ExpiringLRU) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the number of entries currently cached.
func (c *ExpiringLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
