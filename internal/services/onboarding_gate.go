package services

import "github.com/you/abcauth/domain"

// Decide selects the screen for the current phase and profile. It has no side effects.
func Decide(phase domain.AuthPhase, profile *domain.UserProfile) domain.Decision {
	switch phase.Kind {
	case domain.PhaseProcessingDeepLink:
		return domain.Decision{Route: domain.RouteDeepLinkOverlay, URL: phase.PendingURL}
	case domain.PhaseUnauthenticated:
		return domain.Decision{Route: domain.RouteSignIn}
	case domain.PhaseAwaitingVerification:
		return domain.Decision{Route: domain.RouteEnterCode, Email: phase.Email}
	case domain.PhaseDeepLinkFailed:
		return domain.Decision{Route: domain.RouteSignIn, Error: phase.Reason}
	case domain.PhaseAuthenticated:
		if !profile.HasHomeStore() {
			return domain.Decision{Route: domain.RouteOnboarding}
		}
		return domain.Decision{Route: domain.RouteApp}
	default:
		return domain.Decision{Route: domain.RouteLoading}
	}
}
