// Package kvstore defines the generic ordered key-value contract used by
// the metadata store (§6) and job scheduler (C7): a minimal Put/Get/
// Delete/Range/Close surface that both the bbolt-backed implementation
// and an in-memory test double satisfy, grounded on the teacher's
// private/kvstore interface.
package kvstore

import (
	"bytes"
	"context"
	"sort"

	"go.corestream.dev/corestream/pkg/corerr"
)

// Key and Value are raw byte strings; callers are responsible for any
// encoding (JSON, protobuf) of structured data into these.
type Key []byte
type Value []byte

// IsZero reports whether k is the empty key.
func (k Key) IsZero() bool { return len(k) == 0 }

// Less orders keys lexicographically by raw bytes.
func (k Key) Less(b Key) bool { return bytes.Compare(k, b) < 0 }

// Item is a single key/value pair plus an IsPrefix flag. Items carry no
// deleted/tombstone marker.
type Item struct {
	Key      Key
	Value    Value
	IsPrefix bool
}

// Items is a sortable collection of Item, ordered by Key.
type Items []Item

func (items Items) Len() int           { return len(items) }
func (items Items) Less(i, k int) bool { return items[i].Key.Less(items[k].Key) }
func (items Items) Swap(i, k int)      { items[i], items[k] = items[k], items[i] }

// CloneItems returns a deep copy of items.
func CloneItems(items Items) Items {
	out := make(Items, len(items))
	for i, it := range items {
		out[i] = Item{
			Key:      append(Key(nil), it.Key...),
			Value:    append(Value(nil), it.Value...),
			IsPrefix: it.IsPrefix,
		}
	}
	return out
}

// IterateFunc is invoked for each key/value pair visited by Range, in
// ascending key order. Returning an error halts iteration.
type IterateFunc func(ctx context.Context, key Key, value Value) error

// Store is the ordered key-value contract shared by every metadata
// backend in this module (scheduler leases, alert dedup state, footer
// pointers). Get returns corerr.KeyNotExists when the key is absent;
// Put overwrites unconditionally.
type Store interface {
	Put(ctx context.Context, key Key, value Value) error
	Get(ctx context.Context, key Key) (Value, error)
	Delete(ctx context.Context, key Key) error
	// Range visits every key in ascending order, stopping early if fn
	// returns an error (which Range then returns unwrapped).
	Range(ctx context.Context, fn IterateFunc) error
	Close() error
}

// PutAll writes every item in items, stopping at the first error.
func PutAll(ctx context.Context, store Store, items ...Item) error {
	for _, item := range items {
		if err := store.Put(ctx, item.Key, item.Value); err != nil {
			return err
		}
	}
	return nil
}

// ListPrefix collects every item whose key has the given prefix, in
// ascending key order.
func ListPrefix(ctx context.Context, store Store, prefix []byte) (Items, error) {
	var out Items
	err := store.Range(ctx, func(ctx context.Context, key Key, value Value) error {
		if !bytes.HasPrefix(key, prefix) {
			return nil
		}
		out = append(out, Item{Key: append(Key(nil), key...), Value: append(Value(nil), value...)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Sort(out)
	return out, nil
}

// ErrKeyNotFound is returned by Get when key does not exist; backends
// should wrap it as corerr.Wrap(corerr.KeyNotExists, ...) so callers can
// errors.Is against corerr.KeyNotExists directly.
var ErrKeyNotFound = corerr.KeyNotExists
