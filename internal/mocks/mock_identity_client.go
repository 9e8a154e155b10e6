package mocks

import (
	"context"
	"sync"

	"github.com/you/abcauth/domain"
)

// MockIdentityClient implements domain.IdentityClient for testing.
// Emit pushes a session change to every registered listener.
type MockIdentityClient struct {
	RequestOneTimeCodeFunc     func(ctx context.Context, email string) error
	VerifyOneTimeCodeFunc      func(ctx context.Context, email, code string) (*domain.Session, error)
	RequestMagicLinkFunc       func(ctx context.Context, email string) error
	ExchangeDeepLinkTokensFunc func(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error)
	GetCurrentSessionFunc      func(ctx context.Context) (*domain.Session, error)
	RefreshSessionFunc         func(ctx context.Context) (*domain.Session, error)
	SignOutFunc                func(ctx context.Context) error

	mu        sync.Mutex
	listeners map[int]domain.SessionListener
	nextID    int
}

// NewMockIdentityClient creates a new MockIdentityClient with default behaviors
func NewMockIdentityClient() *MockIdentityClient {
	return &MockIdentityClient{listeners: make(map[int]domain.SessionListener)}
}

func (m *MockIdentityClient) RequestOneTimeCode(ctx context.Context, email string) error {
	if m.RequestOneTimeCodeFunc != nil {
		return m.RequestOneTimeCodeFunc(ctx, email)
	}
	return nil
}

func (m *MockIdentityClient) VerifyOneTimeCode(ctx context.Context, email, code string) (*domain.Session, error) {
	if m.VerifyOneTimeCodeFunc != nil {
		return m.VerifyOneTimeCodeFunc(ctx, email, code)
	}
	return nil, domain.NewAuthError(domain.ErrInvalidCode, "", nil)
}

func (m *MockIdentityClient) RequestMagicLink(ctx context.Context, email string) error {
	if m.RequestMagicLinkFunc != nil {
		return m.RequestMagicLinkFunc(ctx, email)
	}
	return nil
}

func (m *MockIdentityClient) ExchangeDeepLinkTokens(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error) {
	if m.ExchangeDeepLinkTokensFunc != nil {
		return m.ExchangeDeepLinkTokensFunc(ctx, accessToken, refreshToken)
	}
	return nil, domain.NewAuthError(domain.ErrInvalidOrExpiredLink, "", nil)
}

func (m *MockIdentityClient) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	if m.GetCurrentSessionFunc != nil {
		return m.GetCurrentSessionFunc(ctx)
	}
	// Default behavior: nothing stored
	return nil, nil
}

func (m *MockIdentityClient) RefreshSession(ctx context.Context) (*domain.Session, error) {
	if m.RefreshSessionFunc != nil {
		return m.RefreshSessionFunc(ctx)
	}
	return nil, domain.NewAuthError(domain.ErrRefreshFailed, "", nil)
}

func (m *MockIdentityClient) SignOut(ctx context.Context) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	return nil
}

func (m *MockIdentityClient) OnSessionChange(listener domain.SessionListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]domain.SessionListener)
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Emit delivers change to the registered listeners synchronously
func (m *MockIdentityClient) Emit(change domain.SessionChange) {
	m.mu.Lock()
	listeners := make([]domain.SessionListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

// ListenerCount returns the number of active subscriptions
func (m *MockIdentityClient) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Compile-time interface compliance verification
var _ domain.IdentityClient = (*MockIdentityClient)(nil)
