package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/you/abcauth/domain"
	"github.com/you/abcauth/internal/mocks"
)

const testSessionKey = "abcapp-auth-token"

// testLogger discards all output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestContext creates a context for testing with timeout
func createTestContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// createAccessToken signs a token whose exp claim is expiresAt
func createAccessToken(t *testing.T, sub string, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// createValidSession creates a session that is valid for another hour
func createValidSession(t *testing.T, accountID string) *domain.Session {
	t.Helper()

	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	return &domain.Session{
		AccessToken:  createAccessToken(t, accountID, expiresAt),
		RefreshToken: "refresh-" + accountID,
		ExpiresAt:    expiresAt,
		User:         domain.AccountIdentity{ID: accountID, Email: accountID + "@example.com", EmailConfirmed: true},
	}
}

// createExpiringSession creates a session inside the default refresh margin
func createExpiringSession(t *testing.T, accountID string) *domain.Session {
	t.Helper()

	session := createValidSession(t, accountID)
	session.ExpiresAt = time.Now().Add(30 * time.Second).Truncate(time.Second).UTC()
	session.AccessToken = createAccessToken(t, accountID, session.ExpiresAt)
	return session
}

// storeSession writes session to the token store the way the client persists it
func storeSession(t *testing.T, store domain.TokenStore, session *domain.Session) {
	t.Helper()

	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("failed to encode session: %v", err)
	}
	if err := store.Set(context.Background(), testSessionKey, string(data)); err != nil {
		t.Fatalf("failed to store session: %v", err)
	}
}

// changeRecorder collects session changes delivered to a listener
type changeRecorder struct {
	ch chan domain.SessionChange
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan domain.SessionChange, 32)}
}

func (r *changeRecorder) listen(change domain.SessionChange) { r.ch <- change }

func (r *changeRecorder) events() []domain.SessionEvent {
	var events []domain.SessionEvent
	for {
		select {
		case c := <-r.ch:
			events = append(events, c.Event)
		default:
			return events
		}
	}
}

// createIdentityClientForTest creates an IdentityClientImpl with mock dependencies
func createIdentityClientForTest(t *testing.T, provider *mocks.MockIdentityProvider, store *mocks.MockTokenStore) *IdentityClientImpl {
	t.Helper()

	if provider == nil {
		provider = mocks.NewMockIdentityProvider()
	}
	if store == nil {
		store = mocks.NewMockTokenStore()
	}
	return NewIdentityClient(provider, store, mocks.NewMockMetricsRecorder(), testLogger(), IdentityClientConfig{
		SessionKey:      testSessionKey,
		RedirectURL:     "abcapp://auth",
		RefreshMargin:   90 * time.Second,
		AutoRefreshTick: 10 * time.Millisecond,
	})
}
