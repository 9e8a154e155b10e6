package mocks

import (
	"context"
	"sync"

	"github.com/you/abcauth/domain"
)

// MockIdentityProvider implements domain.IdentityProvider for testing
type MockIdentityProvider struct {
	SendOTPFunc   func(ctx context.Context, req domain.OTPRequest) error
	VerifyOTPFunc func(ctx context.Context, email, code string) (*domain.Session, error)
	GetUserFunc   func(ctx context.Context, accessToken string) (*domain.AccountIdentity, error)
	RefreshFunc   func(ctx context.Context, refreshToken string) (*domain.Session, error)
	SignOutFunc   func(ctx context.Context, accessToken string) error

	mu    sync.Mutex
	calls map[string]int
}

// NewMockIdentityProvider creates a new MockIdentityProvider with default behaviors
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{calls: make(map[string]int)}
}

func (m *MockIdentityProvider) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

// Calls returns how often op was invoked
func (m *MockIdentityProvider) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of provider calls of any kind
func (m *MockIdentityProvider) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockIdentityProvider) SendOTP(ctx context.Context, req domain.OTPRequest) error {
	m.record("SendOTP")
	if m.SendOTPFunc != nil {
		return m.SendOTPFunc(ctx, req)
	}
	// Default behavior: success
	return nil
}

func (m *MockIdentityProvider) VerifyOTP(ctx context.Context, email, code string) (*domain.Session, error) {
	m.record("VerifyOTP")
	if m.VerifyOTPFunc != nil {
		return m.VerifyOTPFunc(ctx, email, code)
	}
	// Default behavior: code rejected
	return nil, domain.NewAuthError(domain.ErrInvalidCode, "", nil)
}

func (m *MockIdentityProvider) GetUser(ctx context.Context, accessToken string) (*domain.AccountIdentity, error) {
	m.record("GetUser")
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, accessToken)
	}
	return nil, domain.NewAuthError(domain.ErrProvider, "user not found", nil)
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	m.record("Refresh")
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, domain.NewAuthError(domain.ErrProvider, "invalid refresh token", nil)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, accessToken string) error {
	m.record("SignOut")
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

// Compile-time interface compliance verification
var _ domain.IdentityProvider = (*MockIdentityProvider)(nil)
