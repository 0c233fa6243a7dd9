// Package memtable accumulates Arrow record batches in memory, keyed by
// (org, stream_type, stream_name, schema_key), until a rotation threshold
// is hit (spec.md §3/§4.2, component C2).
package memtable

import (
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/zeebo/errs"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/stream"
)

// Error is this package's errs.Class.
var Error = errs.Class("memtable")

// RecordBatchEntry is one Arrow batch appended to a bucket, with the size
// pair used for rotation accounting (spec.md §3).
type RecordBatchEntry struct {
	Batch     arrow.Record
	JSONSize  int64
	ArrowSize int64
}

// Bucket is the mutable state for one (org, stream, schema_key) key:
// a schema plus the ordered batches appended so far.
type Bucket struct {
	ID        stream.ID
	Schema    stream.Schema
	SchemaKey string
	Entries   []RecordBatchEntry
	CreatedAt time.Time

	arrowSize int64
	jsonSize  int64
}

// ArrowSize returns the bucket's accumulated Arrow-encoded size.
func (b *Bucket) ArrowSize() int64 { return b.arrowSize }

// JSONSize returns the bucket's accumulated source JSON size.
func (b *Bucket) JSONSize() int64 { return b.jsonSize }

// Age returns how long the bucket has been accumulating.
func (b *Bucket) Age() time.Duration { return time.Since(b.CreatedAt) }

// Thresholds are the rotation triggers from spec.md §4.2.
type Thresholds struct {
	MaxFileSize int64
	MaxJSONSize int64
	MaxAge      time.Duration
}

func (t Thresholds) exceeded(b *Bucket) bool {
	if t.MaxFileSize > 0 && b.arrowSize >= t.MaxFileSize {
		return true
	}
	if t.MaxJSONSize > 0 && b.jsonSize >= t.MaxJSONSize {
		return true
	}
	if t.MaxAge > 0 && b.Age() >= t.MaxAge {
		return true
	}
	return false
}

// CircuitBreaker predicates reject appends under memory/disk pressure.
// They are modeled as two independent functions (spec.md §9 supplement),
// each retried independently by the caller.
type CircuitBreaker struct {
	CheckMemory func() bool
	CheckDisk   func() bool
}

func (c CircuitBreaker) open() bool {
	if c.CheckMemory != nil && c.CheckMemory() {
		return true
	}
	if c.CheckDisk != nil && c.CheckDisk() {
		return true
	}
	return false
}

// Set is the process-wide collection of active and sealed buckets. Writes
// are serialized under a single RW lock; readers observe a consistent
// snapshot during flush, matching spec.md §4.2/§5's cooperative-lock model.
type Set struct {
	mu         sync.RWMutex
	active     map[string]*Bucket
	sealed     []*Bucket
	thresholds Thresholds
	breaker    CircuitBreaker
}

// NewSet constructs an empty memtable set.
func NewSet(thresholds Thresholds, breaker CircuitBreaker) *Set {
	return &Set{
		active:     make(map[string]*Bucket),
		thresholds: thresholds,
		breaker:    breaker,
	}
}

func bucketKey(id stream.ID, schemaKey string) string {
	return id.Org + "\x00" + string(id.Kind) + "\x00" + id.Name + "\x00" + schemaKey
}

// Append upserts batch into the bucket for (id, schema, schemaKey),
// accumulating sizes. Rejects with corerr.CircuitOpen when memory or disk
// pressure is active; the caller must retry after back-off.
func (s *Set) Append(id stream.ID, schema stream.Schema, schemaKey string, batch arrow.Record, jsonSize int64) error {
	if s.breaker.open() {
		return Error.Wrap(corerr.CircuitOpen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(id, schemaKey)
	b, ok := s.active[key]
	if !ok {
		b = &Bucket{ID: id, Schema: schema, SchemaKey: schemaKey, CreatedAt: time.Now()}
		s.active[key] = b
	}

	arrowSize := estimateArrowSize(batch)
	b.Entries = append(b.Entries, RecordBatchEntry{Batch: batch, JSONSize: jsonSize, ArrowSize: arrowSize})
	b.arrowSize += arrowSize
	b.jsonSize += jsonSize

	return nil
}

func estimateArrowSize(r arrow.Record) int64 {
	if r == nil {
		return 0
	}
	var total int64
	for _, col := range r.Columns() {
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

// RotateIfNeeded swaps any bucket exceeding its thresholds into the sealed
// list and drops it from active, so further appends to that key open a
// fresh bucket. The swap happens under the write lock: appenders observe
// either the pre- or post-rotation state, never a partial one.
func (s *Set) RotateIfNeeded() []*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rotated []*Bucket
	for key, b := range s.active {
		if s.thresholds.exceeded(b) {
			rotated = append(rotated, b)
			s.sealed = append(s.sealed, b)
			delete(s.active, key)
		}
	}
	return rotated
}

// TakeImmutable returns and clears all sealed buckets, for the mover (C3)
// to drain. Each returned bucket is uniquely owned by the caller from this
// point on.
func (s *Set) TakeImmutable() []*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := s.sealed
	s.sealed = nil
	return taken
}

// ActiveBucketCount reports the number of open buckets, for observability.
func (s *Set) ActiveBucketCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
