package domain

import "encoding/json"

// PhaseKind identifies the discrete state of the session state machine
type PhaseKind int

const (
	PhaseUninitialized PhaseKind = iota
	PhaseRestoring
	PhaseUnauthenticated
	PhaseAwaitingVerification
	PhaseAuthenticated
	PhaseProcessingDeepLink
	PhaseDeepLinkFailed
)

var phaseNames = map[PhaseKind]string{
	PhaseUninitialized:        "uninitialized",
	PhaseRestoring:            "restoring",
	PhaseUnauthenticated:      "unauthenticated",
	PhaseAwaitingVerification: "awaiting_verification",
	PhaseAuthenticated:        "authenticated",
	PhaseProcessingDeepLink:   "processing_deep_link",
	PhaseDeepLinkFailed:       "deep_link_failed",
}

func (k PhaseKind) String() string {
	if name, ok := phaseNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the kind by name
func (k PhaseKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// AuthPhase is one complete state value. Only the fields belonging to Kind are set.
type AuthPhase struct {
	Kind PhaseKind `json:"kind"`

	// AwaitingVerification
	Email string `json:"email,omitempty"`

	// Authenticated
	Session  *Session         `json:"-"`
	Identity *AccountIdentity `json:"identity,omitempty"`

	// ProcessingDeepLink
	PendingURL string `json:"pending_url,omitempty"`

	// DeepLinkFailed
	Reason string `json:"reason,omitempty"`
}

func Uninitialized() AuthPhase   { return AuthPhase{Kind: PhaseUninitialized} }
func Restoring() AuthPhase       { return AuthPhase{Kind: PhaseRestoring} }
func Unauthenticated() AuthPhase { return AuthPhase{Kind: PhaseUnauthenticated} }

func AwaitingVerification(email string) AuthPhase {
	return AuthPhase{Kind: PhaseAwaitingVerification, Email: email}
}

// Authenticated copies the session so the phase never aliases client-owned state
func Authenticated(session *Session) AuthPhase {
	s := *session
	identity := s.User
	return AuthPhase{Kind: PhaseAuthenticated, Session: &s, Identity: &identity}
}

func ProcessingDeepLink(url string) AuthPhase {
	return AuthPhase{Kind: PhaseProcessingDeepLink, PendingURL: url}
}

func DeepLinkFailed(reason string) AuthPhase {
	return AuthPhase{Kind: PhaseDeepLinkFailed, Reason: reason}
}

// IsAuthenticated reports whether the phase carries a session
func (p AuthPhase) IsAuthenticated() bool {
	return p.Kind == PhaseAuthenticated && p.Identity != nil
}

// AccountID returns the authenticated account id or ""
func (p AuthPhase) AccountID() string {
	if !p.IsAuthenticated() {
		return ""
	}
	return p.Identity.ID
}

// Transitional phases must always be left by a later transition
func (p AuthPhase) Transitional() bool {
	return p.Kind == PhaseRestoring || p.Kind == PhaseProcessingDeepLink
}

// Route is the screen the onboarding gate selects
type Route string

const (
	RouteLoading         Route = "loading"
	RouteSignIn          Route = "sign_in"
	RouteEnterCode       Route = "enter_code"
	RouteDeepLinkOverlay Route = "deep_link_overlay"
	RouteOnboarding      Route = "onboarding"
	RouteApp             Route = "app"
)

// Decision is the onboarding gate result
type Decision struct {
	Route Route  `json:"route"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}
