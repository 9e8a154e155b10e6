package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/abcauth/domain"
	"github.com/you/abcauth/internal/mocks"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
		valid    bool
	}{
		{"simple", "user@example.com", "user@example.com", true},
		{"trimmed and lowered", "  User@Example.COM ", "user@example.com", true},
		{"subdomain", "a@mail.b.co", "a@mail.b.co", true},
		{"missing at", "not-an-email", "", false},
		{"missing dot", "user@localhost", "", false},
		{"inner space", "us er@example.com", "", false},
		{"two ats", "a@b@c.com", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateEmail(tt.email)
			if !tt.valid {
				assert.ErrorIs(t, err, domain.ErrInvalidEmail)
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidateCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{" 123456", false},
		{"١٢٣٤٥٦", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := ValidateCode(tt.code)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidCode)
			}
		})
	}
}

func TestIdentityClient_RequestOneTimeCode(t *testing.T) {
	tests := []struct {
		name          string
		email         string
		providerErr   error
		expectedError error
		expectCall    bool
	}{
		{
			name:       "sends code",
			email:      "user@example.com",
			expectCall: true,
		},
		{
			name:          "invalid email never reaches the provider",
			email:         "not-an-email",
			expectedError: domain.ErrInvalidEmail,
		},
		{
			name:          "provider failure",
			email:         "user@example.com",
			providerErr:   errors.New("connection refused"),
			expectedError: domain.ErrProvider,
			expectCall:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewMockIdentityProvider()
			var got domain.OTPRequest
			provider.SendOTPFunc = func(ctx context.Context, req domain.OTPRequest) error {
				got = req
				return tt.providerErr
			}
			client := createIdentityClientForTest(t, provider, nil)

			err := client.RequestOneTimeCode(createTestContext(t), tt.email)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
				assert.Equal(t, domain.OTPRequest{Email: "user@example.com", CreateUser: true}, got)
			}

			if tt.expectCall {
				assert.Equal(t, 1, provider.Calls("SendOTP"))
			} else {
				assert.Equal(t, 0, provider.TotalCalls())
			}
		})
	}
}

func TestIdentityClient_RequestMagicLink(t *testing.T) {
	provider := mocks.NewMockIdentityProvider()
	var got domain.OTPRequest
	provider.SendOTPFunc = func(ctx context.Context, req domain.OTPRequest) error {
		got = req
		return nil
	}
	client := createIdentityClientForTest(t, provider, nil)

	require.NoError(t, client.RequestMagicLink(createTestContext(t), "user@example.com"))
	assert.Equal(t, "abcapp://auth", got.RedirectTo)

	err := client.RequestMagicLink(createTestContext(t), "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	assert.Equal(t, 1, provider.TotalCalls())
}

func TestIdentityClient_VerifyOneTimeCode(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		providerErr   error
		expectedError error
		expectCall    bool
	}{
		{
			name:       "valid code",
			code:       "123456",
			expectCall: true,
		},
		{
			name:          "short code rejected locally",
			code:          "12345",
			expectedError: domain.ErrInvalidCode,
		},
		{
			name:          "letters rejected locally",
			code:          "abcdef",
			expectedError: domain.ErrInvalidCode,
		},
		{
			name:          "wrong code",
			code:          "654321",
			providerErr:   domain.NewAuthError(domain.ErrInvalidCode, "Token has expired or is invalid", nil),
			expectedError: domain.ErrInvalidCode,
			expectCall:    true,
		},
		{
			name:          "expired code",
			code:          "654321",
			providerErr:   domain.NewAuthError(domain.ErrCodeExpired, "", nil),
			expectedError: domain.ErrCodeExpired,
			expectCall:    true,
		},
		{
			name:          "transport failure",
			code:          "654321",
			providerErr:   errors.New("timeout"),
			expectedError: domain.ErrProvider,
			expectCall:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := createValidSession(t, "u1")
			provider := mocks.NewMockIdentityProvider()
			provider.VerifyOTPFunc = func(ctx context.Context, email, code string) (*domain.Session, error) {
				if tt.providerErr != nil {
					return nil, tt.providerErr
				}
				return session, nil
			}
			store := mocks.NewMockTokenStore()
			client := createIdentityClientForTest(t, provider, store)
			recorder := newChangeRecorder()
			client.OnSessionChange(recorder.listen)

			got, err := client.VerifyOneTimeCode(createTestContext(t), "u1@example.com", tt.code)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, got)
				assert.Equal(t, 0, store.Len())
				assert.Empty(t, recorder.events())
			} else {
				require.NoError(t, err)
				assert.Equal(t, session.AccessToken, got.AccessToken)
				assert.Equal(t, 1, store.Len())
				assert.Equal(t, []domain.SessionEvent{domain.SessionSignedIn}, recorder.events())
			}

			if !tt.expectCall {
				assert.Equal(t, 0, provider.TotalCalls())
			}
		})
	}
}

func TestIdentityClient_ExchangeDeepLinkTokens(t *testing.T) {
	live := createValidSession(t, "u1")
	expiredToken := createAccessToken(t, "u1", time.Now().Add(-time.Minute))

	tests := []struct {
		name          string
		accessToken   string
		refreshToken  string
		setupMocks    func(p *mocks.MockIdentityProvider)
		expectedError error
		expectedCall  string
	}{
		{
			name:         "live token validated with user lookup",
			accessToken:  live.AccessToken,
			refreshToken: "rt",
			setupMocks: func(p *mocks.MockIdentityProvider) {
				p.GetUserFunc = func(ctx context.Context, accessToken string) (*domain.AccountIdentity, error) {
					return &live.User, nil
				}
			},
			expectedCall: "GetUser",
		},
		{
			name:         "expired token refreshed",
			accessToken:  expiredToken,
			refreshToken: "rt",
			setupMocks: func(p *mocks.MockIdentityProvider) {
				p.RefreshFunc = func(ctx context.Context, refreshToken string) (*domain.Session, error) {
					assert.Equal(t, "rt", refreshToken)
					return live, nil
				}
			},
			expectedCall: "Refresh",
		},
		{
			name:         "opaque token refreshed",
			accessToken:  "AT1",
			refreshToken: "RT1",
			setupMocks: func(p *mocks.MockIdentityProvider) {
				p.RefreshFunc = func(ctx context.Context, refreshToken string) (*domain.Session, error) {
					return live, nil
				}
			},
			expectedCall: "Refresh",
		},
		{
			name:          "rejected token",
			accessToken:   live.AccessToken,
			refreshToken:  "rt",
			setupMocks:    func(p *mocks.MockIdentityProvider) {},
			expectedError: domain.ErrInvalidOrExpiredLink,
			expectedCall:  "GetUser",
		},
		{
			name:          "revoked refresh token",
			accessToken:   expiredToken,
			refreshToken:  "rt",
			setupMocks:    func(p *mocks.MockIdentityProvider) {},
			expectedError: domain.ErrInvalidOrExpiredLink,
			expectedCall:  "Refresh",
		},
		{
			name:          "missing refresh token",
			accessToken:   live.AccessToken,
			setupMocks:    func(p *mocks.MockIdentityProvider) {},
			expectedError: domain.ErrInvalidOrExpiredLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewMockIdentityProvider()
			tt.setupMocks(provider)
			store := mocks.NewMockTokenStore()
			client := createIdentityClientForTest(t, provider, store)
			recorder := newChangeRecorder()
			client.OnSessionChange(recorder.listen)

			session, err := client.ExchangeDeepLinkTokens(createTestContext(t), tt.accessToken, tt.refreshToken)
			if tt.expectedCall != "" {
				assert.Equal(t, 1, provider.Calls(tt.expectedCall))
			} else {
				assert.Equal(t, 0, provider.TotalCalls())
			}

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.NotEmpty(t, domain.UserMessage(err))
				assert.Empty(t, recorder.events())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", session.User.ID)
			assert.False(t, session.ExpiresAt.IsZero())
			assert.Equal(t, []domain.SessionEvent{domain.SessionSignedIn}, recorder.events())

			current, err := client.GetCurrentSession(createTestContext(t))
			require.NoError(t, err)
			assert.Equal(t, session.AccessToken, current.AccessToken)
		})
	}
}

func TestIdentityClient_GetCurrentSession(t *testing.T) {
	tests := []struct {
		name          string
		stored        func(t *testing.T, store *mocks.MockTokenStore)
		refresh       func(ctx context.Context, refreshToken string) (*domain.Session, error)
		expectSession bool
		expectEvents  []domain.SessionEvent
		expectStored  bool
		expectCalls   int
	}{
		{
			name:          "nothing stored",
			stored:        func(t *testing.T, store *mocks.MockTokenStore) {},
			expectSession: false,
		},
		{
			name: "valid session needs no network",
			stored: func(t *testing.T, store *mocks.MockTokenStore) {
				storeSession(t, store, createValidSession(t, "u1"))
			},
			expectSession: true,
			expectStored:  true,
		},
		{
			name: "expiring session refreshed",
			stored: func(t *testing.T, store *mocks.MockTokenStore) {
				storeSession(t, store, createExpiringSession(t, "u1"))
			},
			refresh: func(ctx context.Context, refreshToken string) (*domain.Session, error) {
				return createValidSession(t, "u1"), nil
			},
			expectSession: true,
			expectEvents:  []domain.SessionEvent{domain.SessionTokenRefreshed},
			expectStored:  true,
			expectCalls:   1,
		},
		{
			name: "failed refresh signs out",
			stored: func(t *testing.T, store *mocks.MockTokenStore) {
				storeSession(t, store, createExpiringSession(t, "u1"))
			},
			expectSession: false,
			expectEvents:  []domain.SessionEvent{domain.SessionSignedOut},
			expectCalls:   1,
		},
		{
			name: "corrupt value removed",
			stored: func(t *testing.T, store *mocks.MockTokenStore) {
				require.NoError(t, store.Set(context.Background(), testSessionKey, "{not json"))
			},
			expectSession: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewMockIdentityProvider()
			provider.RefreshFunc = tt.refresh
			store := mocks.NewMockTokenStore()
			tt.stored(t, store)
			client := createIdentityClientForTest(t, provider, store)
			recorder := newChangeRecorder()
			client.OnSessionChange(recorder.listen)

			session, err := client.GetCurrentSession(createTestContext(t))
			require.NoError(t, err)
			assert.Equal(t, tt.expectSession, session != nil)
			assert.Equal(t, tt.expectEvents, recorder.events())
			assert.Equal(t, tt.expectStored, store.Len() == 1)
			assert.Equal(t, tt.expectCalls, provider.TotalCalls())
		})
	}
}

func TestIdentityClient_GetCurrentSession_StoreUnavailable(t *testing.T) {
	store := mocks.NewMockTokenStore()
	store.GetFunc = func(ctx context.Context, key string) (string, bool, error) {
		return "", false, domain.ErrTokenStore
	}
	client := createIdentityClientForTest(t, nil, store)

	_, err := client.GetCurrentSession(createTestContext(t))
	assert.ErrorIs(t, err, domain.ErrTokenStore)
}

func TestIdentityClient_RefreshSession(t *testing.T) {
	t.Run("success emits token refreshed", func(t *testing.T) {
		provider := mocks.NewMockIdentityProvider()
		fresh := createValidSession(t, "u1")
		fresh.AccessToken = "fresh"
		provider.RefreshFunc = func(ctx context.Context, refreshToken string) (*domain.Session, error) {
			return fresh, nil
		}
		store := mocks.NewMockTokenStore()
		storeSession(t, store, createValidSession(t, "u1"))
		client := createIdentityClientForTest(t, provider, store)
		recorder := newChangeRecorder()
		client.OnSessionChange(recorder.listen)

		session, err := client.RefreshSession(createTestContext(t))
		require.NoError(t, err)
		assert.Equal(t, "fresh", session.AccessToken)
		assert.Equal(t, []domain.SessionEvent{domain.SessionTokenRefreshed}, recorder.events())
	})

	t.Run("failure forces sign out", func(t *testing.T) {
		store := mocks.NewMockTokenStore()
		storeSession(t, store, createValidSession(t, "u1"))
		client := createIdentityClientForTest(t, nil, store)
		recorder := newChangeRecorder()
		client.OnSessionChange(recorder.listen)

		_, err := client.RefreshSession(createTestContext(t))
		assert.ErrorIs(t, err, domain.ErrRefreshFailed)
		assert.Equal(t, 0, store.Len())
		assert.Equal(t, []domain.SessionEvent{domain.SessionSignedOut}, recorder.events())
	})

	t.Run("no session", func(t *testing.T) {
		client := createIdentityClientForTest(t, nil, nil)

		_, err := client.RefreshSession(createTestContext(t))
		assert.ErrorIs(t, err, domain.ErrRefreshFailed)
		assert.ErrorIs(t, err, domain.ErrNoSession)
	})
}

func TestIdentityClient_SignOut(t *testing.T) {
	tests := []struct {
		name          string
		hasSession    bool
		remoteErr     error
		expectedError error
		expectEvents  []domain.SessionEvent
	}{
		{
			name:         "signed in",
			hasSession:   true,
			expectEvents: []domain.SessionEvent{domain.SessionSignedOut},
		},
		{
			name:       "no session is a no-op",
			hasSession: false,
		},
		{
			name:          "remote failure still clears local state",
			hasSession:    true,
			remoteErr:     errors.New("503"),
			expectedError: domain.ErrProvider,
			expectEvents:  []domain.SessionEvent{domain.SessionSignedOut},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewMockIdentityProvider()
			provider.SignOutFunc = func(ctx context.Context, accessToken string) error { return tt.remoteErr }
			store := mocks.NewMockTokenStore()
			if tt.hasSession {
				storeSession(t, store, createValidSession(t, "u1"))
			}
			client := createIdentityClientForTest(t, provider, store)
			recorder := newChangeRecorder()
			client.OnSessionChange(recorder.listen)

			err := client.SignOut(createTestContext(t))
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 0, store.Len())
			assert.Equal(t, tt.expectEvents, recorder.events())

			// a second sign-out is always a silent success
			assert.NoError(t, client.SignOut(createTestContext(t)))
		})
	}
}

func TestIdentityClient_Unsubscribe(t *testing.T) {
	store := mocks.NewMockTokenStore()
	storeSession(t, store, createValidSession(t, "u1"))
	client := createIdentityClientForTest(t, nil, store)
	recorder := newChangeRecorder()

	unsubscribe := client.OnSessionChange(recorder.listen)
	unsubscribe()
	unsubscribe()

	require.NoError(t, client.SignOut(createTestContext(t)))
	assert.Empty(t, recorder.events())
}

func TestIdentityClient_AutoRefresh(t *testing.T) {
	provider := mocks.NewMockIdentityProvider()
	provider.RefreshFunc = func(ctx context.Context, refreshToken string) (*domain.Session, error) {
		return createValidSession(t, "u1"), nil
	}
	store := mocks.NewMockTokenStore()
	storeSession(t, store, createExpiringSession(t, "u1"))
	client := createIdentityClientForTest(t, provider, store)
	recorder := newChangeRecorder()
	client.OnSessionChange(recorder.listen)

	client.StartAutoRefresh(context.Background())
	client.StartAutoRefresh(context.Background())
	assert.True(t, client.AutoRefreshRunning())

	select {
	case change := <-recorder.ch:
		assert.Equal(t, domain.SessionTokenRefreshed, change.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("auto refresh did not run")
	}

	client.StopAutoRefresh()
	client.StopAutoRefresh()
	assert.False(t, client.AutoRefreshRunning())

	// the refreshed session is outside the margin, so later ticks left it alone
	assert.Equal(t, 1, provider.Calls("Refresh"))
}
