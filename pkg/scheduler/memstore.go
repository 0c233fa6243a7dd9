package scheduler

import (
	"context"
	"sync"
	"time"

	"go.corestream.dev/corestream/pkg/corerr"
)

// MemStore is an in-memory Store, used by tests and by the scheduler CLI
// command in single-process/no-metastore configurations.
type MemStore struct {
	mu       sync.Mutex
	byID     map[string]Trigger
	idByKey  map[string]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]Trigger), idByKey: make(map[string]string)}
}

// Insert implements Store, failing with corerr.AlreadyExists on a
// duplicate (org, module, module_key).
func (m *MemStore) Insert(ctx context.Context, t Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := triggerKey(t.Org, t.Module, t.ModuleKey)
	if _, exists := m.idByKey[key]; exists {
		return corerr.AlreadyExists
	}
	m.idByKey[key] = t.ID
	m.byID[t.ID] = t
	return nil
}

// CompareAndSwap implements Store.
func (m *MemStore) CompareAndSwap(ctx context.Context, org, module, key string, mutate func(Trigger) Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idByKey[triggerKey(org, module, key)]
	if !ok {
		return corerr.KeyNotExists
	}
	t, ok := m.byID[id]
	if !ok {
		return corerr.KeyNotExists
	}
	m.byID[id] = mutate(t)
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(ctx context.Context, org, module, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := triggerKey(org, module, key)
	id, ok := m.idByKey[k]
	if !ok {
		return nil
	}
	delete(m.idByKey, k)
	delete(m.byID, id)
	return nil
}

// Get implements Store.
func (m *MemStore) Get(ctx context.Context, org, module, key string) (Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idByKey[triggerKey(org, module, key)]
	if !ok {
		return Trigger{}, corerr.KeyNotExists
	}
	return m.byID[id], nil
}

// List implements Store.
func (m *MemStore) List(ctx context.Context, module string) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.byID {
		if module == "" || t.Module == module {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListByOrg implements Store.
func (m *MemStore) ListByOrg(ctx context.Context, org, module string) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.byID {
		if t.Org != org {
			continue
		}
		if module == "" || t.Module == module {
			out = append(out, t)
		}
	}
	return out, nil
}

// LenModule implements Store.
func (m *MemStore) LenModule(ctx context.Context, module string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.byID {
		if t.Module == module {
			n++
		}
	}
	return n, nil
}

// PullWaiting implements Store: reclaims lease-expired Processing
// triggers into Waiting, then atomically selects up to n Waiting
// triggers whose NextRunAt has elapsed, marking them Processing.
func (m *MemStore) PullWaiting(ctx context.Context, n int, now time.Time) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.byID {
		if t.Status == StatusProcessing && t.Timeout > 0 && now.Sub(t.StartTime) > t.Timeout {
			t.Status = StatusWaiting
			m.byID[id] = t
		}
	}

	var selected []Trigger
	for id, t := range m.byID {
		if len(selected) >= n {
			break
		}
		if t.IsRealtime || t.Status != StatusWaiting {
			continue
		}
		if t.NextRunAt.After(now) {
			continue
		}
		t.Status = StatusProcessing
		t.StartTime = now
		m.byID[id] = t
		selected = append(selected, t)
	}
	return selected, nil
}
