package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/abcauth/domain"
	"github.com/you/abcauth/internal/mocks"
)

// setupTestRedis creates an in-memory Redis instance for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		ttl      time.Duration
		setup    func(t *testing.T, s *RedisStore)
		key      string
		expected string
		found    bool
	}{
		{
			name:  "missing key",
			key:   "abcapp-auth-token",
			found: false,
		},
		{
			name: "stored value",
			setup: func(t *testing.T, s *RedisStore) {
				require.NoError(t, s.Set(ctx, "abcapp-auth-token", `{"access_token":"at"}`))
			},
			key:      "abcapp-auth-token",
			expected: `{"access_token":"at"}`,
			found:    true,
		},
		{
			name: "removed value",
			setup: func(t *testing.T, s *RedisStore) {
				require.NoError(t, s.Set(ctx, "k", "v"))
				require.NoError(t, s.Remove(ctx, "k"))
			},
			key:   "k",
			found: false,
		},
		{
			name: "remove missing key is not an error",
			setup: func(t *testing.T, s *RedisStore) {
				require.NoError(t, s.Remove(ctx, "never-set"))
			},
			key:   "never-set",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := setupTestRedis(t)
			store := NewRedisStore(client, "securestore:", tt.ttl)
			if tt.setup != nil {
				tt.setup(t, store)
			}

			value, found, err := store.Get(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestRedisStore_PrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "securestore:", time.Hour)

	require.NoError(t, store.Set(ctx, "session", "v"))
	assert.True(t, mr.Exists("securestore:session"))
	assert.Equal(t, time.Hour, mr.TTL("securestore:session"))

	mr.FastForward(2 * time.Hour)
	_, found, err := store.Get(ctx, "session")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, "", 0)
	mr.Close()

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTokenStore))
}

func TestSealedStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := mocks.NewMockTokenStore()
	store, err := NewSealedStore(inner, "s3cret")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "session", `{"access_token":"at"}`))

	raw, found, err := inner.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, raw, "access_token", "value must be encrypted at rest")

	value, found, err := store.Get(ctx, "session")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"access_token":"at"}`, value)

	require.NoError(t, store.Remove(ctx, "session"))
	assert.Equal(t, 0, inner.Len())
}

func TestSealedStore_Unreadable(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored func(t *testing.T, inner *mocks.MockTokenStore)
	}{
		{
			name: "plaintext value",
			stored: func(t *testing.T, inner *mocks.MockTokenStore) {
				require.NoError(t, inner.Set(ctx, "session", "not base64 !"))
			},
		},
		{
			name: "too short",
			stored: func(t *testing.T, inner *mocks.MockTokenStore) {
				require.NoError(t, inner.Set(ctx, "session", "AAAA"))
			},
		},
		{
			name: "sealed with another secret",
			stored: func(t *testing.T, inner *mocks.MockTokenStore) {
				other, err := NewSealedStore(inner, "other")
				require.NoError(t, err)
				require.NoError(t, other.Set(ctx, "session", "v"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := mocks.NewMockTokenStore()
			tt.stored(t, inner)

			store, err := NewSealedStore(inner, "s3cret")
			require.NoError(t, err)

			_, found, err := store.Get(ctx, "session")
			assert.True(t, found)
			assert.ErrorIs(t, err, domain.ErrTokenUnreadable)
		})
	}
}

func TestNewSealedStore_RequiresSecret(t *testing.T) {
	_, err := NewSealedStore(mocks.NewMockTokenStore(), "")
	require.Error(t, err)
}
