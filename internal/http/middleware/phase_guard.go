package middleware

import (
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"

	"github.com/you/abcauth/domain"
)

// Casbin subjects derived from the auth phase
const (
	RoleGuest  = "role_guest"
	RoleMember = "role_member"
	RoleAny    = "role_any"
)

const phaseModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// DefaultPolicies lists which bridge routes each role may call
var DefaultPolicies = [][]string{
	{RoleAny, "/session", "GET"},
	{RoleAny, "/deeplink", "POST"},
	{RoleAny, "/auth/logout", "POST"},
	{RoleAny, "/lifecycle", "GET"},
	{RoleAny, "/lifecycle/*", "POST"},
	{RoleAny, "/policies", "GET"},

	{RoleGuest, "/auth/otp/*", "POST"},
	{RoleGuest, "/auth/magic-link", "POST"},
	{RoleGuest, "/auth/cancel", "POST"},

	{RoleMember, "/auth/refresh", "POST"},
	{RoleMember, "/profile", "(GET|PATCH|DELETE)"},
	{RoleMember, "/profile/home-store", "PUT"},
}

// CasbinMiddleware defines the interface for Casbin authorization middleware
type CasbinMiddleware interface {
	Enforce() gin.HandlerFunc
}

// NewPhaseEnforcer builds an in-memory enforcer holding policies
func NewPhaseEnforcer(policies [][]string) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(phaseModel)
	if err != nil {
		return nil, fmt.Errorf("invalid casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	if _, err := e.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies([][]string{{RoleGuest, RoleAny}, {RoleMember, RoleAny}}); err != nil {
		return nil, fmt.Errorf("failed to load role hierarchy: %w", err)
	}
	return e, nil
}

// PhaseGuard authorizes bridge requests by the current auth phase
type PhaseGuard struct {
	enforcer *casbin.Enforcer
	snapshot func() domain.Snapshot
}

// NewPhaseGuard creates the guard. snapshot is read once per request.
func NewPhaseGuard(enforcer *casbin.Enforcer, snapshot func() domain.Snapshot) *PhaseGuard {
	return &PhaseGuard{enforcer: enforcer, snapshot: snapshot}
}

// RoleFor maps a phase to its casbin subject
func RoleFor(phase domain.AuthPhase) string {
	if phase.IsAuthenticated() {
		return RoleMember
	}
	return RoleGuest
}

// Enforce returns the casbin authorization middleware
func (g *PhaseGuard) Enforce() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := g.snapshot()
		role := RoleFor(snap.Phase)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		allowed, err := g.enforcer.Enforce(role, path, c.Request.Method)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authorization check failed"})
			return
		}
		if !allowed {
			if role == RoleGuest {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}

		c.Set("auth_phase", snap.Phase.Kind.String())
		if id := snap.Phase.AccountID(); id != "" {
			c.Set("account_id", id)
		}
		c.Next()
	}
}
