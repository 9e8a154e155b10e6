package mocks

import (
	"context"
	"sync"

	"github.com/you/abcauth/domain"
)

// MockTokenStore implements domain.TokenStore for testing. Without overrides it
// behaves as an in-memory map.
type MockTokenStore struct {
	GetFunc    func(ctx context.Context, key string) (string, bool, error)
	SetFunc    func(ctx context.Context, key, value string) error
	RemoveFunc func(ctx context.Context, key string) error

	mu     sync.Mutex
	values map[string]string
}

// NewMockTokenStore creates a new MockTokenStore backed by an empty map
func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{values: make(map[string]string)}
}

func (m *MockTokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MockTokenStore) Set(ctx context.Context, key, value string) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MockTokenStore) Remove(ctx context.Context, key string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys
func (m *MockTokenStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Compile-time interface compliance verification
var _ domain.TokenStore = (*MockTokenStore)(nil)
