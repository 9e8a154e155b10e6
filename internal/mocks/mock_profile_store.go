package mocks

import (
	"context"

	"github.com/you/abcauth/domain"
)

// MockProfileStore implements domain.ProfileStore for testing
type MockProfileStore struct {
	GetFunc        func(ctx context.Context, accountID string) (*domain.UserProfile, error)
	GetByEmailFunc func(ctx context.Context, email string) (*domain.UserProfile, error)
	CreateFunc     func(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error)
	UpdateFunc     func(ctx context.Context, accountID string, update domain.ProfileUpdate) (*domain.UserProfile, error)
	UpsertFunc     func(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error)
	DeleteFunc     func(ctx context.Context, accountID string) error
	EmailInUseFunc func(ctx context.Context, email, exceptAccountID string) (bool, error)
}

// NewMockProfileStore creates a new MockProfileStore with default behaviors
func NewMockProfileStore() *MockProfileStore {
	return &MockProfileStore{}
}

func (m *MockProfileStore) Get(ctx context.Context, accountID string) (*domain.UserProfile, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, accountID)
	}
	// Default behavior: not found
	return nil, domain.ErrProfileNotFound
}

func (m *MockProfileStore) GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, domain.ErrProfileNotFound
}

func (m *MockProfileStore) Create(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, profile)
	}
	// Default behavior: echo the input
	created := *profile
	return &created, nil
}

func (m *MockProfileStore) Update(ctx context.Context, accountID string, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, accountID, update)
	}
	return nil, domain.ErrProfileNotFound
}

func (m *MockProfileStore) Upsert(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, profile)
	}
	saved := *profile
	return &saved, nil
}

func (m *MockProfileStore) Delete(ctx context.Context, accountID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, accountID)
	}
	return nil
}

func (m *MockProfileStore) EmailInUse(ctx context.Context, email, exceptAccountID string) (bool, error) {
	if m.EmailInUseFunc != nil {
		return m.EmailInUseFunc(ctx, email, exceptAccountID)
	}
	return false, nil
}

// Compile-time interface compliance verification
var _ domain.ProfileStore = (*MockProfileStore)(nil)
