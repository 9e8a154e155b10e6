package gotrue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/abcauth/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(server.Client(), logger, server.URL+"/", "anon-key")
	c.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

const sessionJSON = `{
	"access_token": "at",
	"refresh_token": "rt",
	"expires_in": 3600,
	"user": {"id": "u1", "email": "a@b.co", "email_confirmed_at": "2025-01-01T00:00:00Z"}
}`

func TestClient_SendOTP(t *testing.T) {
	var got struct {
		path     string
		redirect string
		apikey   string
		body     otpBody
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.redirect = r.URL.Query().Get("redirect_to")
		got.apikey = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	err := c.SendOTP(context.Background(), domain.OTPRequest{Email: "a@b.co", CreateUser: true, RedirectTo: "abcapp://auth"})
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/otp", got.path)
	assert.Equal(t, "abcapp://auth", got.redirect)
	assert.Equal(t, "anon-key", got.apikey)
	assert.Equal(t, otpBody{Email: "a@b.co", CreateUser: true}, got.body)
}

func TestClient_SendOTP_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":429,"error_code":"over_email_send_rate_limit","msg":"Email rate limit exceeded"}`))
	})

	err := c.SendOTP(context.Background(), domain.OTPRequest{Email: "a@b.co"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, "Email rate limit exceeded", domain.UserMessage(err))
}

func TestClient_VerifyOTP(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		expectedError error
	}{
		{
			name:   "valid code",
			status: http.StatusOK,
			body:   sessionJSON,
		},
		{
			name:          "expired code",
			status:        http.StatusForbidden,
			body:          `{"code":403,"error_code":"otp_expired","msg":"Token has expired or is invalid"}`,
			expectedError: domain.ErrCodeExpired,
		},
		{
			name:          "wrong code",
			status:        http.StatusBadRequest,
			body:          `{"error":"invalid_grant","error_description":"Invalid token"}`,
			expectedError: domain.ErrInvalidCode,
		},
		{
			name:          "server failure",
			status:        http.StatusInternalServerError,
			body:          `oops`,
			expectedError: domain.ErrProvider,
		},
		{
			name:          "incomplete session",
			status:        http.StatusOK,
			body:          `{"access_token":"at"}`,
			expectedError: domain.ErrProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/verify", r.URL.Path)
				var body verifyBody
				_ = json.NewDecoder(r.Body).Decode(&body)
				assert.Equal(t, verifyBody{Type: "email", Email: "a@b.co", Token: "123456"}, body)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			session, err := c.VerifyOTP(context.Background(), "a@b.co", "123456")
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, session)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "at", session.AccessToken)
			assert.Equal(t, "rt", session.RefreshToken)
			assert.Equal(t, "u1", session.User.ID)
			assert.True(t, session.User.EmailConfirmed)
			assert.Equal(t, time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), session.ExpiresAt)
		})
	}
}

func TestClient_Refresh(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		var body refreshBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken != "rt" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","expires_at":1735693200,"user":{"id":"u1"}}`))
	})

	session, err := c.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "at2", session.AccessToken)
	assert.Equal(t, time.Unix(1735693200, 0).UTC(), session.ExpiresAt)

	_, err = c.Refresh(context.Background(), "revoked")
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestClient_GetUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.co"}`))
	})

	user, err := c.GetUser(context.Background(), "at")
	require.NoError(t, err)
	assert.Equal(t, &domain.AccountIdentity{ID: "u1", Email: "a@b.co"}, user)

	_, err = c.GetUser(context.Background(), "forged")
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestClient_SignOut(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		expectError bool
	}{
		{"signed out", http.StatusNoContent, false},
		{"token already invalid", http.StatusUnauthorized, false},
		{"server failure", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/logout", r.URL.Path)
				w.WriteHeader(tt.status)
			})

			err := c.SignOut(context.Background(), "at")
			if tt.expectError {
				assert.ErrorIs(t, err, domain.ErrProvider)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.httpClient.Timeout = 20 * time.Millisecond

	err := c.SendOTP(context.Background(), domain.OTPRequest{Email: "a@b.co"})
	assert.ErrorIs(t, err, domain.ErrProvider)
}
