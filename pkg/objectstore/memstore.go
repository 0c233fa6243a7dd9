package objectstore

import (
	"context"
	"io"
	"sync"

	"go.corestream.dev/corestream/pkg/corerr"
)

// MemStore is an in-memory Store, the object-store analogue of the
// teacher's storage/teststore in-memory KeyValueStore double. Used by
// tests for the mover, Puffin reader, and footer cache.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// Put stores size bytes from r under key.
func (m *MemStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf
	return nil
}

// GetRange returns [offset, offset+length) of key.
func (m *MemStore) GetRange(_ context.Context, key string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, Error.Wrap(corerr.KeyNotExists)
	}
	if offset+length > int64(len(data)) {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, io.ErrUnexpectedEOF))
	}
	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

// Size returns the byte length of key.
func (m *MemStore) Size(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, Error.Wrap(corerr.KeyNotExists)
	}
	return int64(len(data)), nil
}

// Delete removes key.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
