package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/you/abcauth/internal/config"
	httpx "github.com/you/abcauth/internal/http"
	"github.com/you/abcauth/internal/infrastructure/database"
)

// lockedBuffer collects log output written from several goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                    "0",
		GinMode:                 gin.TestMode,
		LogLevel:                "info",
		IdentityProvider:        config.ProviderLocal,
		RedirectURL:             "abcapp://auth",
		IdentityTimeout:         5 * time.Second,
		AutoRefreshTick:         time.Hour,
		RefreshMargin:           90 * time.Second,
		SessionKey:              "abcapp-auth-token",
		DeepLinkSchemes:         []string{"abcapp"},
		DeepLinkAuthHost:        "auth",
		TokenPrefix:             "securestore:",
		TokenSecret:             "test-secret",
		UnsetHomeStoreSentinels: []string{"000"},
		LocalJWTSecret:          "local-secret",
		LocalIssuer:             "abcauth-local",
		LocalAccessTTL:          time.Hour,
		LocalRefreshTTL:         24 * time.Hour,
		LocalOTPTTL:             10 * time.Minute,
		LocalOTPLength:          6,
		LocalMaxAttempts:        5,
		LocalResendWindow:       time.Minute,
		RateLimitPerMinute:      60,
		RateLimitBurst:          10,
	}
}

// newTestContainer wires the container over miniredis and in-memory sqlite
func newTestContainer(t *testing.T, logs *lockedBuffer) *Container {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	c := &Container{
		Config:      testConfig(),
		Logger:      slog.New(slog.NewJSONHandler(logs, nil)),
		DB:          db,
		RedisClient: rdb,
	}
	require.NoError(t, c.initServices())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type apiClient struct {
	t *testing.T
	r http.Handler
}

func (a apiClient) do(method, path, body string) (int, map[string]any) {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w.Code, decoded
}

func (a apiClient) route() string {
	a.t.Helper()
	_, body := a.do(http.MethodGet, "/session", "")
	return body["data"].(map[string]any)["decision"].(map[string]any)["route"].(string)
}

// lastMagicLink finds the link the development mailer logged
func lastMagicLink(t *testing.T, logs *lockedBuffer) string {
	t.Helper()
	var link string
	for _, line := range logs.lines() {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		if l, ok := entry["magic_link"].(string); ok {
			link = l
		}
	}
	require.NotEmpty(t, link, "no magic link logged")
	return link
}

func TestContainer_MagicLinkJourney(t *testing.T) {
	logs := &lockedBuffer{}
	c := newTestContainer(t, logs)
	ctx := context.Background()
	require.NoError(t, c.Machine.Start(ctx, ""))
	require.NoError(t, c.Machine.Flush(ctx))

	gin.SetMode(gin.TestMode)
	api := apiClient{t: t, r: httpx.BuildRouter(c.Routes(), c.Logger)}

	assert.Equal(t, "sign_in", api.route())

	status, _ := api.do(http.MethodPost, "/auth/magic-link", `{"email":"Shopper@Example.com"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "enter_code", api.route())

	link := lastMagicLink(t, logs)
	status, body := api.do(http.MethodPost, "/deeplink", `{"url":"`+link+`"}`)
	require.Equal(t, http.StatusOK, status)
	outcome := body["data"].(map[string]any)["outcome"].(map[string]any)
	assert.Equal(t, true, outcome["success"])
	assert.Equal(t, "onboarding", api.route())

	status, body = api.do(http.MethodGet, "/profile", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "shopper@example.com", body["data"].(map[string]any)["email"])

	status, _ = api.do(http.MethodPut, "/profile/home-store", `{"store_id":"97201"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "app", api.route())

	status, _ = api.do(http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, c.Machine.Flush(ctx))
	assert.Equal(t, "sign_in", api.route())

	status, _ = api.do(http.MethodGet, "/profile", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = api.do(http.MethodPost, "/deeplink", `{"url":"`+link+`"}`)
	require.Equal(t, http.StatusOK, status)
	outcome = body["data"].(map[string]any)["outcome"].(map[string]any)
	assert.Equal(t, false, outcome["success"], "a signed-out link cannot be replayed")
	assert.Equal(t, "sign_in", api.route())
}

func TestContainer_RestoresAcrossRestart(t *testing.T) {
	logs := &lockedBuffer{}
	c := newTestContainer(t, logs)
	ctx := context.Background()
	require.NoError(t, c.Machine.Start(ctx, ""))

	require.NoError(t, c.Machine.RequestMagicLink(ctx, "a@b.co"))
	link := lastMagicLink(t, logs)
	outcome, err := c.Machine.HandleDeepLink(ctx, link)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	// a second machine over the same stores restores the session
	c.Machine.Close()
	require.NoError(t, c.initServices())
	require.NoError(t, c.Machine.Start(ctx, ""))
	require.NoError(t, c.Machine.Flush(ctx))

	snap := c.Machine.Snapshot()
	assert.True(t, snap.Phase.IsAuthenticated())
	require.NotNil(t, snap.Profile)
	assert.Equal(t, "a@b.co", snap.Profile.Email)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	c := newTestContainer(t, &lockedBuffer{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())
	c.Config.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, c) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + port + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, c.Client.AutoRefreshRunning())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
