// Package metastore is the KV + relational metadata store of spec.md §6:
// a thin domain layer over pkg/kvstore (prefix get/put/delete/list/watch)
// and, in relational.go, the GORM-backed table surface for scheduled
// jobs, patterns, organizations, and the rest of the tables enumerated
// there.
package metastore

import (
	"bytes"
	"context"
	"sort"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/eventbus"
	"go.corestream.dev/corestream/pkg/kvstore"
)

// Error is this package's errs.Class.
var Error = corerr.Class("metastore")

// KV is the generic get/put/delete/list/watch surface of spec.md §6,
// layering prefix listing and event-bus notification over a bare
// kvstore.Store.
type KV struct {
	store kvstore.Store
	bus   *eventbus.Bus
}

// NewKV wraps store, publishing every mutation to bus (nil is allowed,
// in which case mutations are silent).
func NewKV(store kvstore.Store, bus *eventbus.Bus) *KV {
	return &KV{store: store, bus: bus}
}

// Get returns the value at key.
func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := k.store.Get(ctx, kvstore.Key(key))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return v, nil
}

// Put writes key=value and publishes a Put event.
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := k.store.Put(ctx, kvstore.Key(key), kvstore.Value(value)); err != nil {
		return Error.Wrap(err)
	}
	k.publish(eventbus.Event{Kind: eventbus.KindPut, Key: key, Value: value})
	return nil
}

// Delete removes key and publishes a Delete event.
func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.store.Delete(ctx, kvstore.Key(key)); err != nil {
		return Error.Wrap(err)
	}
	k.publish(eventbus.Event{Kind: eventbus.KindDelete, Key: key})
	return nil
}

// DeletePrefix removes every key under prefix and publishes a single
// prefix Delete event.
func (k *KV) DeletePrefix(ctx context.Context, prefix string) error {
	items, err := kvstore.ListPrefix(ctx, k.store, []byte(prefix))
	if err != nil {
		return Error.Wrap(err)
	}
	for _, item := range items {
		if err := k.store.Delete(ctx, item.Key); err != nil {
			return Error.Wrap(err)
		}
	}
	k.publish(eventbus.Event{Kind: eventbus.KindDelete, Key: prefix, WithPrefix: true})
	return nil
}

// Entry is one key/value pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// List returns every key/value pair under prefix, in ascending key order.
func (k *KV) List(ctx context.Context, prefix string) ([]Entry, error) {
	items, err := kvstore.ListPrefix(ctx, k.store, []byte(prefix))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Sort(items)
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		if !bytes.HasPrefix(item.Key, []byte(prefix)) {
			continue
		}
		out = append(out, Entry{Key: string(item.Key), Value: item.Value})
	}
	return out, nil
}

// Watch returns a channel of events for mutations under prefix; it is a
// thin filter over the shared event bus rather than a store-level
// primitive (spec.md §6: "watch(prefix) -> Stream<Event>").
func (k *KV) Watch(ctx context.Context, prefix string) (<-chan eventbus.Event, context.CancelFunc) {
	raw, cancel := k.bus.Subscribe(ctx, 32)
	out := make(chan eventbus.Event, 32)
	go func() {
		defer close(out)
		for e := range raw {
			if prefix != "" && !bytes.HasPrefix([]byte(e.Key), []byte(prefix)) {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel
}

func (k *KV) publish(e eventbus.Event) {
	if k.bus != nil {
		k.bus.Publish(e)
	}
}
