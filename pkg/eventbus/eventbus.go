// Package eventbus is the generic put/delete/watch fan-out bus described
// in spec.md §6: every metadata mutation (scheduler trigger updates,
// schema changes, stream deletes) is published here so dashboards and
// cross-region receivers can watch for changes instead of polling. It is
// an explicit, single-owner service with its own Close, not a package
// global, per spec.md §9's design note on explicit bus ownership.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Kind discriminates the event payload shapes in spec.md §6.
type Kind string

const (
	KindPut                Kind = "put"
	KindDelete             Kind = "delete"
	KindSchemaMerge        Kind = "schema_merge"
	KindSchemaSetting      Kind = "schema_setting"
	KindSchemaDeleteFields Kind = "schema_delete_fields"
	KindStreamDelete       Kind = "stream_delete"
)

// Event is a single bus message. Fields not relevant to Kind are zero.
type Event struct {
	Kind Kind

	Key   string
	Value []byte

	// WithPrefix marks a Delete as a prefix delete rather than a single key.
	WithPrefix bool

	// Fields, for SchemaMerge/SchemaDeleteFields.
	Fields []string

	// SettingKey/SettingValue, for SchemaSetting.
	SettingKey   string
	SettingValue string
}

// subscriber is one watcher's mailbox. A full channel drops the new
// event rather than block the publisher (a slow watcher must not stall
// scheduler mutations).
type subscriber struct {
	ch     chan Event
	cancel context.CancelFunc
}

// Bus fans out Publish calls to every active Subscribe channel. The zero
// value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	log    *zap.Logger
}

// New returns a ready Bus. log may be nil, in which case a no-op logger
// is used.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[*subscriber]struct{}), log: log}
}

// Subscribe registers a new watcher and returns a channel of events plus
// a cancel func that unregisters it. The channel is closed when either
// cancel is called, ctx is done, or the Bus itself is closed.
func (b *Bus) Subscribe(ctx context.Context, buffer int) (<-chan Event, context.CancelFunc) {
	if buffer <= 0 {
		buffer = 16
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{ch: make(chan Event, buffer), cancel: cancel}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		cancel()
		return sub.ch, cancel
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-subCtx.Done()
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch, cancel
}

// Publish fans event out to every active subscriber, dropping it for any
// subscriber whose mailbox is full rather than blocking.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.log.Warn("eventbus: dropping event for slow subscriber", zap.String("kind", string(event.Kind)))
		}
	}
}

// Close cancels every outstanding subscription and rejects further
// Publish/Subscribe calls.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.cancel()
	}
}
