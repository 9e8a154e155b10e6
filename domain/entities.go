package domain

import "time"

// AccountIdentity is the identity provider's view of who is signed in
type AccountIdentity struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// Session is the credential bundle issued by the identity provider
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	User         AccountIdentity `json:"user"`
}

// Expired reports whether the access token is expired or will be within margin
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// Valid reports whether the session carries the fields needed to act on it
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != "" && s.User.ID != ""
}

// UserProfile is the application-level record keyed by account id
type UserProfile struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	HomeStoreID          string    `json:"home_store_id"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// HasHomeStore reports whether onboarding has selected a home store.
// Empty string is the only unset value; legacy sentinels are normalized by the store.
func (p *UserProfile) HasHomeStore() bool {
	return p != nil && p.HomeStoreID != ""
}

// NewDefaultProfile returns the profile created on first sign-in
func NewDefaultProfile(identity AccountIdentity) *UserProfile {
	return &UserProfile{
		ID:                   identity.ID,
		Email:                identity.Email,
		HomeStoreID:          "",
		NotificationsEnabled: true,
	}
}

// ProfileUpdate carries the fields of a partial profile update. Nil fields are left untouched.
type ProfileUpdate struct {
	Email                *string `json:"email,omitempty"`
	HomeStoreID          *string `json:"home_store_id,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

// Empty reports whether no field is set
func (u ProfileUpdate) Empty() bool {
	return u.Email == nil && u.HomeStoreID == nil && u.NotificationsEnabled == nil
}

// DeepLinkOutcome is the result of processing one incoming URL
type DeepLinkOutcome struct {
	RecognizedAsAuthLink bool   `json:"recognized_as_auth_link"`
	Success              bool   `json:"success"`
	ErrorMessage         string `json:"error_message,omitempty"`
}

// Snapshot is the consistent view of the session state published to observers
type Snapshot struct {
	Phase           AuthPhase        `json:"phase"`
	Profile         *UserProfile     `json:"profile,omitempty"`
	ProfileDegraded bool             `json:"profile_degraded"`
	LastOutcome     *DeepLinkOutcome `json:"last_outcome,omitempty"`
	Version         uint64           `json:"version"`
}
