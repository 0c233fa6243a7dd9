package cache

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go.corestream.dev/corestream/pkg/objectstore"
)

// extent is a cached contiguous byte range for a single path.
type extent struct {
	rng  objectstore.Range
	data []byte
}

// contains reports whether e is a superset of rng.
func (e extent) contains(rng objectstore.Range) bool {
	return rng.Start >= e.rng.Start && rng.End <= e.rng.End
}

// slice returns the portion of e.data covering rng. Caller must have
// already checked e.contains(rng).
func (e extent) slice(rng objectstore.Range) []byte {
	return e.data[rng.Start-e.rng.Start : rng.End-e.rng.Start]
}

// adjacent reports whether rng directly abuts or overlaps e, so the two
// can be coalesced into a single extent covering both.
func (e extent) adjacent(rng objectstore.Range) bool {
	return rng.Start <= e.rng.End && rng.End >= e.rng.Start
}

func (e extent) union(rng objectstore.Range, data []byte) extent {
	start, end := e.rng.Start, e.rng.End
	if rng.Start < start {
		start = rng.Start
	}
	if rng.End > end {
		end = rng.End
	}
	merged := make([]byte, end-start)
	copy(merged[e.rng.Start-start:], e.data)
	copy(merged[rng.Start-start:], data)
	return extent{rng: objectstore.Range{Start: start, End: end}, data: merged}
}

// RangeCache is the path-keyed byte-range cache described in spec.md
// §4.6 (component C6): footer metadata and hot slices are cached per
// path, with get_slice only ever returning a hit when the cached extent
// is a superset of the requested range, and adjacent put_slice calls
// coalesced so repeated nearby reads converge on one cached extent.
//
// Once a path's footer has been read and pinned via PinFooter, the
// pinned value is never evicted or re-fetched until Forget is called
// for that path (the footer-cache invariant).
type RangeCache struct {
	mu      sync.Mutex
	extents map[string][]extent
	pinned  map[string]interface{}

	lru *ExpiringLRU

	redis *redis.Client
	log   *zap.Logger
}

// RangeCacheOptions configures a RangeCache. Redis is optional; when nil,
// the cache is purely in-process (fine for a single search/query node).
type RangeCacheOptions struct {
	Capacity   int
	Redis      *redis.Client
	Log        *zap.Logger
}

// NewRangeCache returns an empty RangeCache.
func NewRangeCache(opts RangeCacheOptions) *RangeCache {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 1024
	}
	return &RangeCache{
		extents: make(map[string][]extent),
		pinned:  make(map[string]interface{}),
		lru:     New(Options{Capacity: capacity}),
		redis:   opts.Redis,
		log:     log,
	}
}

// GetSlice returns the cached bytes covering rng for path, if any extent
// already cached is a superset of rng. A miss returns (nil, false); it is
// the caller's responsibility to fetch and PutSlice the result.
func (c *RangeCache) GetSlice(path string, rng objectstore.Range) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.extents[path] {
		if e.contains(rng) {
			return e.slice(rng), true
		}
	}
	return nil, false
}

// PutSlice records data as covering rng for path, coalescing it into an
// existing adjacent/overlapping extent when possible rather than growing
// the extent list unboundedly.
func (c *RangeCache) PutSlice(path string, rng objectstore.Range, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	extents := c.extents[path]
	for i, e := range extents {
		if e.adjacent(rng) {
			extents[i] = e.union(rng, data)
			c.extents[path] = extents
			return
		}
	}
	c.extents[path] = append(extents, extent{rng: rng, data: append([]byte(nil), data...)})
}

// PinFooter caches value for path and marks it pinned: subsequent calls
// to GetFooter for the same path always return this value, bypassing any
// expiration or eviction policy, until Forget is called explicitly.
func (c *RangeCache) PinFooter(path string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[path] = value
}

// GetFooter returns the pinned footer value for path, if PinFooter has
// been called for it.
func (c *RangeCache) GetFooter(path string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.pinned[path]
	return v, ok
}

// Forget drops all cached extents and the pinned footer for path (used
// when the underlying object is deleted or replaced, e.g. by the
// immutable mover rewriting a segment).
func (c *RangeCache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.extents, path)
	delete(c.pinned, path)
}

// FileNum reports how many distinct paths currently have cached extents
// or a pinned footer, for observability (spec.md §7 metrics).
func (c *RangeCache) FileNum() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(c.extents)+len(c.pinned))
	for p := range c.extents {
		seen[p] = true
	}
	for p := range c.pinned {
		seen[p] = true
	}
	return len(seen)
}

// redisKey namespaces a path for the optional shared-cache backing store
// used across multiple query-node processes.
func redisKey(path string, rng objectstore.Range) string {
	return "corestream:range:" + path + ":" + itoa(rng.Start) + "-" + itoa(rng.End)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// GetSliceShared checks the local cache first, falling back to the
// shared Redis-backed store (when configured) for multi-process
// deployments sharing a footer/range cache across query nodes.
func (c *RangeCache) GetSliceShared(ctx context.Context, path string, rng objectstore.Range) ([]byte, bool) {
	if data, ok := c.GetSlice(path, rng); ok {
		return data, true
	}
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, redisKey(path, rng)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("range cache redis miss", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	c.PutSlice(path, rng, data)
	return data, true
}

// PutSliceShared caches data locally and, when Redis is configured,
// publishes it to the shared store so other query nodes can reuse it
// without re-reading the object store.
func (c *RangeCache) PutSliceShared(ctx context.Context, path string, rng objectstore.Range, data []byte) {
	c.PutSlice(path, rng, data)
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, redisKey(path, rng), data, 0).Err(); err != nil {
		c.log.Debug("range cache redis set failed", zap.String("path", path), zap.Error(err))
	}
}
