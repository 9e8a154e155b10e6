package domain

import (
	"context"
	"time"
)

// TokenStore persists serialized credentials by key
type TokenStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// OTPRequest describes a one-time code or magic link request sent to the provider
type OTPRequest struct {
	Email      string
	CreateUser bool
	RedirectTo string
}

// IdentityProvider is the remote auth service. Implementations map provider failures
// onto the sentinel errors in errors.go, usually through *AuthError.
type IdentityProvider interface {
	SendOTP(ctx context.Context, req OTPRequest) error
	VerifyOTP(ctx context.Context, email, code string) (*Session, error)
	GetUser(ctx context.Context, accessToken string) (*AccountIdentity, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// IdentityClient is the session-owning adapter over an IdentityProvider
type IdentityClient interface {
	RequestOneTimeCode(ctx context.Context, email string) error
	VerifyOneTimeCode(ctx context.Context, email, code string) (*Session, error)
	RequestMagicLink(ctx context.Context, email string) error
	ExchangeDeepLinkTokens(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	GetCurrentSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	OnSessionChange(listener SessionListener) (unsubscribe func())
}

// ProfileStore is the keyed record store for user profiles
type ProfileStore interface {
	Get(ctx context.Context, accountID string) (*UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*UserProfile, error)
	Create(ctx context.Context, profile *UserProfile) (*UserProfile, error)
	Update(ctx context.Context, accountID string, update ProfileUpdate) (*UserProfile, error)
	Upsert(ctx context.Context, profile *UserProfile) (*UserProfile, error)
	Delete(ctx context.Context, accountID string) error
	EmailInUse(ctx context.Context, email, exceptAccountID string) (bool, error)
}

// DeepLinkHandler classifies incoming URLs and completes auth callbacks
type DeepLinkHandler interface {
	Classify(rawURL string) bool
	Handle(ctx context.Context, rawURL string) DeepLinkOutcome
}

// Mailer delivers sign-in codes and links. Used by the local development provider.
type Mailer interface {
	SendSignIn(ctx context.Context, email, code, link string) error
}

// MetricsRecorder receives state machine and bridge measurements
type MetricsRecorder interface {
	RecordTransition(from, to PhaseKind)
	RecordDeepLink(outcome DeepLinkOutcome)
	RecordProfileEnsure(result string)
	RecordProviderCall(operation string, err error, elapsed time.Duration)
}

// SessionController is the surface the bridge drives. All calls are serialized
// through the session state machine.
type SessionController interface {
	Snapshot() Snapshot
	Decision() Decision
	HandleDeepLink(ctx context.Context, rawURL string) (DeepLinkOutcome, error)
	RequestCode(ctx context.Context, email string) error
	RequestMagicLink(ctx context.Context, email string) error
	ResendCode(ctx context.Context) error
	VerifyCode(ctx context.Context, code string) error
	Cancel(ctx context.Context) error
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) error
	SetHomeStore(ctx context.Context, storeID string) (*UserProfile, error)
	UpdateProfile(ctx context.Context, update ProfileUpdate) (*UserProfile, error)
	DeleteProfile(ctx context.Context) error
}
