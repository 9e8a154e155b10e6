package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/you/abcauth/domain"
)

const (
	keySize   = 32
	nonceSize = 24
	keyInfo   = "abcauth token store v1"
)

// SealedStore encrypts values before handing them to the underlying store
type SealedStore struct {
	inner domain.TokenStore
	key   [keySize]byte
}

// NewSealedStore derives the encryption key from secret and wraps inner
func NewSealedStore(inner domain.TokenStore, secret string) (*SealedStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("token store secret is required")
	}

	s := &SealedStore{inner: inner}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive token store key: %w", err)
	}
	return s, nil
}

// Get returns the decrypted value. A value that cannot be opened yields ErrTokenUnreadable.
func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, found, err := s.inner.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize {
		return "", true, domain.ErrTokenUnreadable
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", true, domain.ErrTokenUnreadable
	}
	return string(plain), true, nil
}

// Set encrypts value with a fresh nonce and stores it
func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("%w: nonce: %v", domain.ErrTokenStore, err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(ctx, key, base64.RawURLEncoding.EncodeToString(sealed))
}

func (s *SealedStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

var _ domain.TokenStore = (*SealedStore)(nil)
