package mocks

import (
	"context"

	"github.com/you/abcauth/domain"
)

// MockSessionController implements domain.SessionController for handler tests
type MockSessionController struct {
	SnapshotFunc         func() domain.Snapshot
	DecisionFunc         func() domain.Decision
	HandleDeepLinkFunc   func(ctx context.Context, rawURL string) (domain.DeepLinkOutcome, error)
	RequestCodeFunc      func(ctx context.Context, email string) error
	RequestMagicLinkFunc func(ctx context.Context, email string) error
	ResendCodeFunc       func(ctx context.Context) error
	VerifyCodeFunc       func(ctx context.Context, code string) error
	CancelFunc           func(ctx context.Context) error
	SignOutFunc          func(ctx context.Context) error
	RefreshFunc          func(ctx context.Context) error
	SetHomeStoreFunc     func(ctx context.Context, storeID string) (*domain.UserProfile, error)
	UpdateProfileFunc    func(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error)
	DeleteProfileFunc    func(ctx context.Context) error
}

// NewMockSessionController creates a controller that reports Unauthenticated
func NewMockSessionController() *MockSessionController {
	return &MockSessionController{}
}

func (m *MockSessionController) Snapshot() domain.Snapshot {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc()
	}
	return domain.Snapshot{Phase: domain.Unauthenticated(), Version: 1}
}

func (m *MockSessionController) Decision() domain.Decision {
	if m.DecisionFunc != nil {
		return m.DecisionFunc()
	}
	return domain.Decision{Route: domain.RouteSignIn}
}

func (m *MockSessionController) HandleDeepLink(ctx context.Context, rawURL string) (domain.DeepLinkOutcome, error) {
	if m.HandleDeepLinkFunc != nil {
		return m.HandleDeepLinkFunc(ctx, rawURL)
	}
	return domain.DeepLinkOutcome{Success: true}, nil
}

func (m *MockSessionController) RequestCode(ctx context.Context, email string) error {
	if m.RequestCodeFunc != nil {
		return m.RequestCodeFunc(ctx, email)
	}
	return nil
}

func (m *MockSessionController) RequestMagicLink(ctx context.Context, email string) error {
	if m.RequestMagicLinkFunc != nil {
		return m.RequestMagicLinkFunc(ctx, email)
	}
	return nil
}

func (m *MockSessionController) ResendCode(ctx context.Context) error {
	if m.ResendCodeFunc != nil {
		return m.ResendCodeFunc(ctx)
	}
	return nil
}

func (m *MockSessionController) VerifyCode(ctx context.Context, code string) error {
	if m.VerifyCodeFunc != nil {
		return m.VerifyCodeFunc(ctx, code)
	}
	return nil
}

func (m *MockSessionController) Cancel(ctx context.Context) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx)
	}
	return nil
}

func (m *MockSessionController) SignOut(ctx context.Context) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	return nil
}

func (m *MockSessionController) Refresh(ctx context.Context) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return nil
}

func (m *MockSessionController) SetHomeStore(ctx context.Context, storeID string) (*domain.UserProfile, error) {
	if m.SetHomeStoreFunc != nil {
		return m.SetHomeStoreFunc(ctx, storeID)
	}
	return nil, domain.ErrNotAuthenticated
}

func (m *MockSessionController) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, update)
	}
	return nil, domain.ErrNotAuthenticated
}

func (m *MockSessionController) DeleteProfile(ctx context.Context) error {
	if m.DeleteProfileFunc != nil {
		return m.DeleteProfileFunc(ctx)
	}
	return nil
}

var _ domain.SessionController = (*MockSessionController)(nil)
