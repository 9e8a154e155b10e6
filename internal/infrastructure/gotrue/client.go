// Package gotrue implements domain.IdentityProvider against the Supabase GoTrue REST API.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/abcauth/domain"
)

const maxErrorBody = 4 << 10

// Client talks to a GoTrue server under <baseURL>/auth/v1
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	anonKey    string
	now        func() time.Time
}

// NewClient creates a GoTrue client. The http client's timeout bounds every call.
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, anonKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/") + "/auth/v1",
		anonKey:    anonKey,
		now:        time.Now,
	}
}

type otpBody struct {
	Email      string `json:"email"`
	CreateUser bool   `json:"create_user"`
}

type verifyBody struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Token string `json:"token"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         userResponse `json:"user"`
}

// errorResponse covers both the current and the legacy GoTrue error bodies
type errorResponse struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorResponse) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

// apiError is a non-2xx response
type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("gotrue status %d (%s): %s", e.status, e.code, e.msg)
	}
	return fmt.Sprintf("gotrue status %d: %s", e.status, e.msg)
}

// SendOTP implements domain.IdentityProvider. It covers both the code and the magic link.
func (c *Client) SendOTP(ctx context.Context, req domain.OTPRequest) error {
	query := url.Values{}
	if req.RedirectTo != "" {
		query.Set("redirect_to", req.RedirectTo)
	}

	err := c.do(ctx, http.MethodPost, "/otp", query, "", otpBody{Email: req.Email, CreateUser: req.CreateUser}, nil)
	if err != nil {
		return c.providerError("send otp", err)
	}
	return nil
}

// VerifyOTP implements domain.IdentityProvider
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*domain.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/verify", nil, "", verifyBody{Type: "email", Email: email, Token: code}, &resp)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status < 500 && apiErr.status != http.StatusTooManyRequests {
			if apiErr.code == "otp_expired" || strings.Contains(strings.ToLower(apiErr.msg), "expired") {
				return nil, domain.NewAuthError(domain.ErrCodeExpired, apiErr.msg, err)
			}
			return nil, domain.NewAuthError(domain.ErrInvalidCode, apiErr.msg, err)
		}
		return nil, c.providerError("verify otp", err)
	}
	return c.toSession(resp)
}

// GetUser implements domain.IdentityProvider
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.AccountIdentity, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &resp); err != nil {
		return nil, c.providerError("get user", err)
	}
	if resp.ID == "" {
		return nil, domain.NewAuthError(domain.ErrProvider, "user response without id", nil)
	}
	return toIdentity(resp), nil
}

// Refresh implements domain.IdentityProvider
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/token", query, "", refreshBody{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, c.providerError("refresh", err)
	}
	return c.toSession(resp)
}

// SignOut implements domain.IdentityProvider. A token the server no longer knows counts as signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && (apiErr.status == http.StatusUnauthorized || apiErr.status == http.StatusNotFound) {
		return nil
	}
	if err != nil {
		return c.providerError("sign out", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var parsed errorResponse
		_ = json.Unmarshal(raw, &parsed)
		msg := parsed.message()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apiError{status: resp.StatusCode, code: parsed.ErrorCode, msg: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) providerError(op string, err error) error {
	c.logger.Warn("identity provider call failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return domain.NewAuthError(domain.ErrProvider, apiErr.msg, err)
	}
	return domain.NewAuthError(domain.ErrProvider, "", err)
}

func (c *Client) toSession(resp sessionResponse) (*domain.Session, error) {
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.User.ID == "" {
		return nil, domain.NewAuthError(domain.ErrProvider, "incomplete session response", nil)
	}

	expiresAt := time.Unix(resp.ExpiresAt, 0).UTC()
	if resp.ExpiresAt == 0 {
		expiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}

	return &domain.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         *toIdentity(resp.User),
	}, nil
}

func toIdentity(u userResponse) *domain.AccountIdentity {
	return &domain.AccountIdentity{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
	}
}

var _ domain.IdentityProvider = (*Client)(nil)
