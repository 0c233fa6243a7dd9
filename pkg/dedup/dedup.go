// Package dedup implements the alert deduplication state machine of
// spec.md §4.8 (component C8): each alert row is fingerprinted, and a
// row is suppressed from the outgoing notification batch when its
// fingerprint was already seen within the effective time window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.corestream.dev/corestream/pkg/corerr"
)

// Error is this package's errs.Class.
var Error = corerr.Class("dedup")

// defaultSemanticGroupFields is the fallback projection used to compute a
// fingerprint when a trigger configures no explicit dedup fields
// (SPEC_FULL.md supplemented feature 5): a fixed set of columns that
// typically identify "the same underlying condition" across alert
// evaluations, rather than hashing the entire row.
var defaultSemanticGroupFields = []string{"service", "host", "level", "message"}

// Config governs fingerprinting and the dedup time window for one
// trigger/rule.
type Config struct {
	// FingerprintFields, if set, are the row keys hashed to build the
	// fingerprint. If empty, defaultSemanticGroupFields is used.
	FingerprintFields []string
	// TimeWindow is the configured dedup window; the effective window is
	// max(TimeWindow, 2*TriggerFrequency) per spec.md §4.8.
	TimeWindow       time.Duration
	TriggerFrequency time.Duration
}

// EffectiveWindow returns max(c.TimeWindow, 2*c.TriggerFrequency).
func (c Config) EffectiveWindow() time.Duration {
	w := c.TimeWindow
	if d := 2 * c.TriggerFrequency; d > w {
		w = d
	}
	return w
}

// Fingerprint computes the content fingerprint for row using c's
// configured fields (or the semantic-group fallback).
func Fingerprint(c Config, row map[string]interface{}) string {
	fields := c.FingerprintFields
	if len(fields) == 0 {
		fields = defaultSemanticGroupFields
	}

	projected := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			projected[f] = v
		}
	}

	keys := make([]string, 0, len(projected))
	for k := range projected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v\n", k, projected[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// State is the persisted dedup record for one fingerprint.
type State struct {
	Fingerprint     string
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	OccurrenceCount int
}

// Store persists dedup state keyed by fingerprint. Durability before
// notification dispatch is the caller's responsibility: Evaluate must be
// called (and its Store write must complete) before a row is handed to
// the notification path, per spec.md §4.8's crash-safety invariant.
type Store interface {
	Get(ctx context.Context, fingerprint string) (State, error)
	Put(ctx context.Context, state State) error
	// DeleteOlderThan removes every state with LastSeenAt older than cutoff,
	// returning the number removed (maintenance cleanup task).
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Decision is Evaluate's verdict for one row.
type Decision struct {
	Fingerprint string
	Emit        bool
	State       State
}

// Evaluate applies the dedup state machine to a single row: if existing
// state is within the effective window, the occurrence count is bumped
// and the row is suppressed; otherwise state is (re)created and the row
// is emitted. Evaluate itself writes the resulting state via store.Put
// before returning, and returns it as Decision.State.
func Evaluate(ctx context.Context, store Store, cfg Config, now time.Time, row map[string]interface{}) (Decision, error) {
	fp := Fingerprint(cfg, row)
	window := cfg.EffectiveWindow()

	existing, err := store.Get(ctx, fp)
	if err == nil && now.Sub(existing.LastSeenAt) <= window {
		existing.LastSeenAt = now
		existing.OccurrenceCount++
		if err := store.Put(ctx, existing); err != nil {
			return Decision{}, Error.Wrap(err)
		}
		return Decision{Fingerprint: fp, Emit: false, State: existing}, nil
	}

	fresh := State{Fingerprint: fp, FirstSeenAt: now, LastSeenAt: now, OccurrenceCount: 1}
	if err := store.Put(ctx, fresh); err != nil {
		return Decision{}, Error.Wrap(err)
	}
	return Decision{Fingerprint: fp, Emit: true, State: fresh}, nil
}

// EvaluateBatch applies Evaluate to every row in R, returning only the
// rows that should be emitted (spec.md §4.8: "R = [row_1, ..., row_n]").
func EvaluateBatch(ctx context.Context, store Store, cfg Config, now time.Time, rows []map[string]interface{}) ([]map[string]interface{}, error) {
	var emitted []map[string]interface{}
	for _, row := range rows {
		d, err := Evaluate(ctx, store, cfg, now, row)
		if err != nil {
			return nil, err
		}
		if d.Emit {
			emitted = append(emitted, row)
		}
	}
	return emitted, nil
}

// Cleanup removes dedup state untouched since before now.Add(-olderThan),
// the maintenance task referenced in spec.md §4.8.
func Cleanup(ctx context.Context, store Store, now time.Time, olderThan time.Duration) (int, error) {
	n, err := store.DeleteOlderThan(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return n, nil
}

// MemStore is an in-memory Store, used by tests and single-node
// deployments without a metastore backend configured.
type MemStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]State)}
}

// Get implements Store.
func (m *MemStore) Get(ctx context.Context, fingerprint string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[fingerprint]
	if !ok {
		return State{}, corerr.KeyNotExists
	}
	return s, nil
}

// Put implements Store.
func (m *MemStore) Put(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Fingerprint] = state
	return nil
}

// DeleteOlderThan implements Store.
func (m *MemStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.states {
		if s.LastSeenAt.Before(cutoff) {
			delete(m.states, k)
			n++
		}
	}
	return n, nil
}

