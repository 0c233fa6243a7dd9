// Package teststore is an in-memory kvstore.Store for unit tests,
// grounded on the teacher's private/kvstore/teststore package.
package teststore

import (
	"context"
	"sort"
	"sync"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/kvstore"
)

// Client is a mutex-guarded map-backed kvstore.Store.
type Client struct {
	mu     sync.Mutex
	values map[string]kvstore.Value
}

// New returns an empty Client.
func New() *Client {
	return &Client{values: make(map[string]kvstore.Value)}
}

// Put writes key=value.
func (c *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[string(key)] = append(kvstore.Value(nil), value...)
	return nil
}

// Get returns the value for key, or corerr.KeyNotExists.
func (c *Client) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[string(key)]
	if !ok {
		return nil, corerr.KeyNotExists
	}
	return append(kvstore.Value(nil), v...), nil
}

// Delete removes key; deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key kvstore.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, string(key))
	return nil
}

// Range visits every key in ascending order.
func (c *Client) Range(ctx context.Context, fn kvstore.IterateFunc) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make(kvstore.Items, 0, len(keys))
	for _, k := range keys {
		items = append(items, kvstore.Item{Key: kvstore.Key(k), Value: c.values[k]})
	}
	c.mu.Unlock()

	for _, item := range items {
		if err := fn(ctx, item.Key, item.Value); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op.
func (c *Client) Close() error { return nil }
