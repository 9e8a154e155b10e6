// Package localidp is a development identity provider backed by Redis. It speaks
// domain.IdentityProvider so the session core can run without a hosted auth service.
package localidp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/you/abcauth/domain"
	"github.com/you/abcauth/internal/infrastructure/database"
)

// Config controls code delivery and verification
type Config struct {
	CodeLength   int
	CodeTTL      time.Duration
	MaxAttempts  int
	ResendWindow time.Duration
	HashCost     int
}

// Provider implements domain.IdentityProvider
type Provider struct {
	redisClient *redis.Client
	tokens      *TokenIssuer
	mailer      domain.Mailer
	hasher      codeHasher
	logger      *slog.Logger
	config      Config
}

// NewProvider creates a local identity provider
func NewProvider(redisClient *redis.Client, tokens *TokenIssuer, mailer domain.Mailer, logger *slog.Logger, config Config) *Provider {
	if config.HashCost == 0 {
		config.HashCost = bcrypt.DefaultCost
	}
	return &Provider{
		redisClient: redisClient,
		tokens:      tokens,
		mailer:      mailer,
		hasher:      codeHasher{cost: config.HashCost},
		logger:      logger,
		config:      config,
	}
}

func otpKey(email string) string      { return "otp:" + email }
func attemptsKey(email string) string { return "otp:att:" + email }
func resendKey(email string) string   { return "otp:res:" + email }
func accountKey(email string) string  { return "acct:" + email }
func refreshKey(sid string) string    { return "refresh:" + sid }
func revokedKey(jti string) string    { return "revoked:" + jti }

// SendOTP implements domain.IdentityProvider. A magic link is included when RedirectTo is set.
func (p *Provider) SendOTP(ctx context.Context, req domain.OTPRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	ok, err := database.SetNX(ctx, p.redisClient, resendKey(email), 1, p.config.ResendWindow)
	if err != nil {
		return p.storeError("resend throttle", err)
	}
	if !ok {
		wait, _ := p.redisClient.TTL(ctx, resendKey(email)).Result()
		msg := fmt.Sprintf("For security purposes, you can only request this after %d seconds.", int(wait.Seconds()))
		return domain.NewAuthError(domain.ErrProvider, msg, nil)
	}

	identity, err := p.account(ctx, email, req.CreateUser)
	if err != nil {
		p.redisClient.Del(ctx, resendKey(email))
		return err
	}

	code, err := generateSecureCode(p.config.CodeLength)
	if err != nil {
		return domain.NewAuthError(domain.ErrProvider, "", err)
	}
	hashed, err := p.hasher.Hash(code)
	if err != nil {
		return domain.NewAuthError(domain.ErrProvider, "", err)
	}

	pipe := p.redisClient.TxPipeline()
	pipe.Set(ctx, otpKey(email), hashed, p.config.CodeTTL)
	pipe.Set(ctx, attemptsKey(email), 0, p.config.CodeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return p.storeError("store code", err)
	}

	var link string
	if req.RedirectTo != "" {
		session, err := p.issue(ctx, *identity)
		if err != nil {
			return err
		}
		link = magicLink(req.RedirectTo, session)
	}

	if err := p.mailer.SendSignIn(ctx, email, code, link); err != nil {
		p.redisClient.Del(ctx, otpKey(email), attemptsKey(email), resendKey(email))
		return domain.NewAuthError(domain.ErrProvider, "Error sending magic link email", err)
	}
	return nil
}

// VerifyOTP implements domain.IdentityProvider
func (p *Provider) VerifyOTP(ctx context.Context, email, code string) (*domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	attempts, err := p.redisClient.Incr(ctx, attemptsKey(email)).Result()
	if err != nil {
		return nil, p.storeError("increment attempts", err)
	}
	if attempts > int64(p.config.MaxAttempts) {
		p.redisClient.Del(ctx, otpKey(email), attemptsKey(email))
		return nil, domain.NewAuthError(domain.ErrCodeExpired, "Too many attempts, request a new code", nil)
	}

	stored, err := p.redisClient.Get(ctx, otpKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		p.redisClient.Del(ctx, attemptsKey(email))
		return nil, domain.NewAuthError(domain.ErrCodeExpired, "Token has expired or is invalid", nil)
	}
	if err != nil {
		return nil, p.storeError("read code", err)
	}

	if !p.hasher.Verify(stored, code) {
		return nil, domain.NewAuthError(domain.ErrInvalidCode, "Token has expired or is invalid", nil)
	}
	p.redisClient.Del(ctx, otpKey(email), attemptsKey(email))

	identity, err := p.account(ctx, email, false)
	if err != nil {
		return nil, err
	}
	return p.issue(ctx, *identity)
}

// GetUser implements domain.IdentityProvider
func (p *Provider) GetUser(ctx context.Context, accessToken string) (*domain.AccountIdentity, error) {
	claims, err := p.tokens.Parse(accessToken, tokenAccess)
	if err != nil {
		return nil, domain.NewAuthError(domain.ErrProvider, "invalid JWT", err)
	}

	revoked, err := p.redisClient.Exists(ctx, revokedKey(claims.ID)).Result()
	if err != nil {
		return nil, p.storeError("check revocation", err)
	}
	if revoked > 0 {
		return nil, domain.NewAuthError(domain.ErrProvider, "session has been revoked", nil)
	}

	return &domain.AccountIdentity{ID: claims.Subject, Email: claims.Email, EmailConfirmed: true}, nil
}

// Refresh implements domain.IdentityProvider. Refresh tokens are single use.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	claims, err := p.tokens.Parse(refreshToken, tokenRefresh)
	if err != nil {
		return nil, domain.NewAuthError(domain.ErrProvider, "Invalid Refresh Token", err)
	}

	accountID, err := p.redisClient.GetDel(ctx, refreshKey(claims.SessionID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && accountID != claims.Subject) {
		return nil, domain.NewAuthError(domain.ErrProvider, "Invalid Refresh Token: Already Used", nil)
	}
	if err != nil {
		return nil, p.storeError("consume refresh token", err)
	}

	return p.issue(ctx, domain.AccountIdentity{ID: claims.Subject, Email: claims.Email, EmailConfirmed: true})
}

// SignOut implements domain.IdentityProvider. It revokes the access token and its refresh token.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.tokens.Parse(accessToken, tokenAccess)
	if err != nil {
		// an unusable token has nothing left to revoke
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		ttl = time.Second
	}
	pipe := p.redisClient.TxPipeline()
	pipe.Del(ctx, refreshKey(claims.SessionID))
	pipe.Set(ctx, revokedKey(claims.ID), 1, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return p.storeError("revoke session", err)
	}
	return nil
}

// account returns the identity registered for email, creating it when allowed
func (p *Provider) account(ctx context.Context, email string, create bool) (*domain.AccountIdentity, error) {
	id, err := p.redisClient.Get(ctx, accountKey(email)).Result()
	if err == nil {
		return &domain.AccountIdentity{ID: id, Email: email, EmailConfirmed: true}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, p.storeError("read account", err)
	}
	if !create {
		return nil, domain.NewAuthError(domain.ErrProvider, "Signups not allowed for otp", nil)
	}

	created, err := database.SetNX(ctx, p.redisClient, accountKey(email), uuid.NewString(), 0)
	if err != nil {
		return nil, p.storeError("create account", err)
	}
	if created {
		p.logger.InfoContext(ctx, "local account created", slog.String("email", email))
	}
	// a concurrent request may have won the race
	return p.account(ctx, email, false)
}

func (p *Provider) issue(ctx context.Context, identity domain.AccountIdentity) (*domain.Session, error) {
	session, refreshClaims, err := p.tokens.IssueSession(identity)
	if err != nil {
		return nil, domain.NewAuthError(domain.ErrProvider, "", err)
	}

	ttl := time.Until(refreshClaims.ExpiresAt.Time)
	if err := p.redisClient.Set(ctx, refreshKey(refreshClaims.SessionID), identity.ID, ttl).Err(); err != nil {
		return nil, p.storeError("store refresh token", err)
	}
	return session, nil
}

func (p *Provider) storeError(op string, err error) error {
	p.logger.Error("local identity store failed", slog.String("operation", op), slog.String("error", err.Error()))
	return domain.NewAuthError(domain.ErrProvider, "", fmt.Errorf("%s: %w", op, err))
}

func magicLink(redirectTo string, session *domain.Session) string {
	params := url.Values{}
	params.Set("access_token", session.AccessToken)
	params.Set("refresh_token", session.RefreshToken)
	params.Set("expires_at", fmt.Sprintf("%d", session.ExpiresAt.Unix()))
	params.Set("token_type", "bearer")
	params.Set("type", "magiclink")

	sep := "?"
	if strings.Contains(redirectTo, "?") {
		sep = "&"
	}
	return redirectTo + sep + params.Encode()
}

var _ domain.IdentityProvider = (*Provider)(nil)
