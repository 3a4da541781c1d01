package stubs

import (
	"context"
	"sort"
	"sync"

	"readinghabits/internal/models"
	"readinghabits/internal/storage"
)

// MockStore is an in-memory implementation of storage.Store. Envelopes are
// kept in their encoded form so every Load returns an independent copy.
type MockStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	failures map[storage.Op]error
	calls    map[storage.Op]int
	closed   bool
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		data:     make(map[string][]byte),
		failures: make(map[storage.Op]error),
		calls:    make(map[storage.Op]int),
	}
}

// Initialize is a no-op for the mock
func (m *MockStore) Initialize(ctx context.Context) error {
	return nil
}

// FailOn makes every subsequent op return err. A nil err clears the failure.
func (m *MockStore) FailOn(op storage.Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked
func (m *MockStore) Calls(op storage.Op) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.calls[op]
}

// Keys returns the stored keys in sorted order
func (m *MockStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load returns the envelope stored under key
func (m *MockStore) Load(ctx context.Context, key string) (models.Envelope, error) {
	m.mu.Lock()
	m.calls[storage.OpLoad]++
	err := m.failures[storage.OpLoad]
	data, ok := m.data[key]
	m.mu.Unlock()

	if err != nil {
		return models.Envelope{}, err
	}
	if !ok {
		return models.Envelope{}, storage.ErrNotFound
	}
	return storage.Decode(data)
}

// Save stores env under key, replacing any previous envelope
func (m *MockStore) Save(ctx context.Context, key string, env models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[storage.OpSave]++
	if err := m.failures[storage.OpSave]; err != nil {
		return err
	}

	data, err := storage.Encode(env)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

// Clear removes the envelope stored under key
func (m *MockStore) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[storage.OpClear]++
	if err := m.failures[storage.OpClear]; err != nil {
		return err
	}

	delete(m.data, key)
	return nil
}

// Close marks the store closed
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.closed
}
