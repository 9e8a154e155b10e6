package localidp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/you/abcauth/domain"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	errTokenInvalid   = errors.New("token is invalid")
	errTokenMalformed = errors.New("token is malformed")
)

// Claims is the payload of tokens issued by the local provider
type Claims struct {
	Email     string `json:"email"`
	Type      string `json:"typ"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 access and refresh tokens
type TokenIssuer struct {
	secretKey       []byte
	issuer          string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secretKey, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secretKey:       []byte(secretKey),
		issuer:          issuer,
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		now:             time.Now,
	}
}

// generateJTI creates a unique JWT ID
func generateJTI() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// IssueSession signs a new access/refresh pair. Both carry the refresh token id as sid.
func (t *TokenIssuer) IssueSession(identity domain.AccountIdentity) (*domain.Session, *Claims, error) {
	sessionID, err := generateJTI()
	if err != nil {
		return nil, nil, err
	}
	now := t.now()

	access, accessClaims, err := t.sign(identity, tokenAccess, sessionID, now, t.accessTokenTTL)
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshClaims, err := t.sign(identity, tokenRefresh, sessionID, now, t.refreshTokenTTL)
	if err != nil {
		return nil, nil, err
	}

	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessClaims.ExpiresAt.Time.UTC(),
		User:         identity,
	}, refreshClaims, nil
}

func (t *TokenIssuer) sign(identity domain.AccountIdentity, kind, sessionID string, now time.Time, ttl time.Duration) (string, *Claims, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", nil, err
	}
	if kind == tokenRefresh {
		jti = sessionID
	}

	claims := &Claims{
		Email:     identity.Email,
		Type:      kind,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secretKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, claims, nil
}

// Parse validates signature, issuer, expiry and token type
func (t *TokenIssuer) Parse(tokenString, kind string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errTokenMalformed
		}
		return t.secretKey, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, errTokenInvalid
	}

	if claims.Type != kind || claims.Subject == "" {
		return nil, errTokenMalformed
	}
	return claims, nil
}
