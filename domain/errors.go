package domain

import "errors"

// Validation errors, rejected before any network call
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidCode  = errors.New("invalid verification code")
)

// Identity provider errors
var (
	ErrProvider             = errors.New("identity provider error")
	ErrCodeExpired          = errors.New("verification code has expired")
	ErrInvalidOrExpiredLink = errors.New("invalid or expired link")
	ErrRefreshFailed        = errors.New("session refresh failed")
	ErrNoSession            = errors.New("no active session")
)

// Profile store errors
var (
	ErrProfileStore         = errors.New("profile store error")
	ErrProfileNotFound      = errors.New("user profile not found")
	ErrProfileAlreadyExists = errors.New("user profile already exists")
	ErrNoFieldsProvided     = errors.New("no valid fields to update")
	ErrInvalidHomeStore     = errors.New("invalid home store id")
	ErrEmailInUse           = errors.New("email is already in use")
)

// Token store errors
var (
	ErrTokenStore      = errors.New("token store error")
	ErrTokenUnreadable = errors.New("stored token is unreadable")
)

// Session machine errors
var (
	ErrMachineClosed           = errors.New("session machine closed")
	ErrMachineNotStarted       = errors.New("session machine not started")
	ErrNotAwaitingVerification = errors.New("no verification in progress")
	ErrNotAuthenticated        = errors.New("not authenticated")
)

// AuthError carries a user-facing message alongside one of the sentinel kinds above
type AuthError struct {
	Kind    error
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Kind.Error() + ": " + e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Kind.Error() + ": " + e.Message
	case e.Err != nil:
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewAuthError builds an AuthError of the given kind
func NewAuthError(kind error, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: cause}
}

// IsValidation reports whether err was rejected locally without reaching the network
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidEmail) || errors.Is(err, ErrInvalidCode)
}

// UserMessage returns the message to show for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Message != "" {
			return authErr.Message
		}
		return authErr.Error()
	}
	return err.Error()
}
