package domain

import "time"

// SessionEvent defines the kind of session change delivered by the identity client
type SessionEvent string

const (
	SessionSignedIn       SessionEvent = "SIGNED_IN"
	SessionTokenRefreshed SessionEvent = "TOKEN_REFRESHED"
	SessionSignedOut      SessionEvent = "SIGNED_OUT"
)

// SessionChange is one push notification from the identity client
type SessionChange struct {
	Event   SessionEvent `json:"event"`
	Session *Session     `json:"-"`
	At      time.Time    `json:"at"`
}

// SessionListener receives session changes. It must not block for long.
type SessionListener func(change SessionChange)

// NewSessionChange creates a change event with a private copy of the session
func NewSessionChange(event SessionEvent, session *Session) SessionChange {
	change := SessionChange{Event: event, At: time.Now().UTC()}
	if session != nil {
		s := *session
		change.Session = &s
	}
	return change
}

// HasSession reports whether the change carries a live session
func (c SessionChange) HasSession() bool {
	return c.Event != SessionSignedOut && c.Session != nil
}
