package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/you/abcauth/domain"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern  = regexp.MustCompile(`^[0-9]{6}$`)
)

// IdentityClientConfig holds the session persistence and refresh settings
type IdentityClientConfig struct {
	SessionKey      string
	RedirectURL     string
	RefreshMargin   time.Duration
	AutoRefreshTick time.Duration
}

// IdentityClientImpl implements domain.IdentityClient. It owns the persisted
// session and is the only writer of the token store key.
type IdentityClientImpl struct {
	provider domain.IdentityProvider
	store    domain.TokenStore
	metrics  domain.MetricsRecorder
	logger   *slog.Logger
	config   IdentityClientConfig
	now      func() time.Time

	// sessionMu serializes every operation that reads or replaces the stored
	// session. Changes are emitted while it is held so listeners see them in order.
	sessionMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]domain.SessionListener
	nextID      int

	refreshMu   sync.Mutex
	stopRefresh context.CancelFunc
	refreshDone chan struct{}
}

// NewIdentityClient creates the identity client
func NewIdentityClient(
	provider domain.IdentityProvider,
	store domain.TokenStore,
	metrics domain.MetricsRecorder,
	logger *slog.Logger,
	config IdentityClientConfig,
) *IdentityClientImpl {
	if config.SessionKey == "" {
		config.SessionKey = "abcapp-auth-token"
	}
	if config.AutoRefreshTick <= 0 {
		config.AutoRefreshTick = 30 * time.Second
	}
	return &IdentityClientImpl{
		provider:  provider,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       time.Now,
		listeners: make(map[int]domain.SessionListener),
	}
}

// ValidateEmail trims the address and checks its shape
func ValidateEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if !emailPattern.MatchString(trimmed) {
		return "", domain.NewAuthError(domain.ErrInvalidEmail, "Please enter a valid email address", nil)
	}
	return strings.ToLower(trimmed), nil
}

// ValidateCode checks that code is exactly six ASCII digits
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return domain.NewAuthError(domain.ErrInvalidCode, "Please enter the 6-digit code", nil)
	}
	return nil
}

// RequestOneTimeCode implements domain.IdentityClient
func (c *IdentityClientImpl) RequestOneTimeCode(ctx context.Context, email string) error {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return err
	}

	start := c.now()
	err = c.provider.SendOTP(ctx, domain.OTPRequest{Email: normalized, CreateUser: true})
	c.metrics.RecordProviderCall("send_otp", err, c.now().Sub(start))
	if err != nil {
		return providerFailure(err)
	}
	return nil
}

// RequestMagicLink implements domain.IdentityClient
func (c *IdentityClientImpl) RequestMagicLink(ctx context.Context, email string) error {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return err
	}

	start := c.now()
	err = c.provider.SendOTP(ctx, domain.OTPRequest{
		Email:      normalized,
		CreateUser: true,
		RedirectTo: c.config.RedirectURL,
	})
	c.metrics.RecordProviderCall("send_magic_link", err, c.now().Sub(start))
	if err != nil {
		return providerFailure(err)
	}
	return nil
}

// VerifyOneTimeCode implements domain.IdentityClient
func (c *IdentityClientImpl) VerifyOneTimeCode(ctx context.Context, email, code string) (*domain.Session, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	start := c.now()
	session, err := c.provider.VerifyOTP(ctx, normalized, code)
	c.metrics.RecordProviderCall("verify_otp", err, c.now().Sub(start))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCode) || errors.Is(err, domain.ErrCodeExpired) {
			return nil, err
		}
		return nil, providerFailure(err)
	}

	if err := c.persist(ctx, session); err != nil {
		return nil, err
	}
	c.emit(domain.SessionSignedIn, session)
	return copySession(session), nil
}

// ExchangeDeepLinkTokens implements domain.IdentityClient. An access token that is
// still live is checked against the provider; an expired one is traded in with the
// refresh token.
func (c *IdentityClientImpl) ExchangeDeepLinkTokens(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, linkFailure(errors.New("missing token"))
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	expiresAt := peekExpiry(accessToken)

	var session *domain.Session
	start := c.now()
	if expiresAt.IsZero() || !c.now().Before(expiresAt) {
		refreshed, err := c.provider.Refresh(ctx, refreshToken)
		c.metrics.RecordProviderCall("refresh", err, c.now().Sub(start))
		if err != nil {
			return nil, linkFailure(err)
		}
		session = refreshed
	} else {
		user, err := c.provider.GetUser(ctx, accessToken)
		c.metrics.RecordProviderCall("get_user", err, c.now().Sub(start))
		if err != nil {
			return nil, linkFailure(err)
		}
		session = &domain.Session{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			User:         *user,
		}
	}

	if err := c.persist(ctx, session); err != nil {
		return nil, linkFailure(err)
	}
	c.emit(domain.SessionSignedIn, session)
	return copySession(session), nil
}

// GetCurrentSession implements domain.IdentityClient. A stored session outside the
// refresh margin is returned without any network call.
func (c *IdentityClientImpl) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	session, err := c.load(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	if !session.Expired(c.now(), c.config.RefreshMargin) {
		return session, nil
	}

	refreshed, err := c.refreshLocked(ctx, session)
	if err != nil {
		c.logger.InfoContext(ctx, "stored session could not be refreshed",
			slog.String("account_id", session.User.ID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return refreshed, nil
}

// RefreshSession implements domain.IdentityClient. A failed refresh signs the user out.
func (c *IdentityClientImpl) RefreshSession(ctx context.Context) (*domain.Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	session, err := c.load(ctx)
	if err != nil {
		return nil, domain.NewAuthError(domain.ErrRefreshFailed, "", err)
	}
	if session == nil {
		return nil, domain.NewAuthError(domain.ErrRefreshFailed, "", domain.ErrNoSession)
	}
	return c.refreshLocked(ctx, session)
}

// SignOut implements domain.IdentityClient. Local state is cleared even when the
// remote call fails; that failure is still reported.
func (c *IdentityClientImpl) SignOut(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	session, err := c.load(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	start := c.now()
	remoteErr := c.provider.SignOut(ctx, session.AccessToken)
	c.metrics.RecordProviderCall("sign_out", remoteErr, c.now().Sub(start))

	c.clearLocked(ctx)

	if remoteErr != nil {
		c.logger.WarnContext(ctx, "remote sign-out failed", slog.String("error", remoteErr.Error()))
		return providerFailure(remoteErr)
	}
	return nil
}

// OnSessionChange implements domain.IdentityClient
func (c *IdentityClientImpl) OnSessionChange(listener domain.SessionListener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			delete(c.listeners, id)
		})
	}
}

// StartAutoRefresh refreshes the session in the background while the app is in the
// foreground. Calling it again while running has no effect.
func (c *IdentityClientImpl) StartAutoRefresh(ctx context.Context) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.stopRefresh != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.stopRefresh = cancel
	c.refreshDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.config.AutoRefreshTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.autoRefreshTick(ctx)
			}
		}
	}()
	c.logger.Debug("auto refresh started")
}

// StopAutoRefresh stops the background refresh and waits for it to exit
func (c *IdentityClientImpl) StopAutoRefresh() {
	c.refreshMu.Lock()
	cancel, done := c.stopRefresh, c.refreshDone
	c.stopRefresh, c.refreshDone = nil, nil
	c.refreshMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Debug("auto refresh stopped")
}

// AutoRefreshRunning reports whether the background refresh is active
func (c *IdentityClientImpl) AutoRefreshRunning() bool {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.stopRefresh != nil
}

func (c *IdentityClientImpl) autoRefreshTick(ctx context.Context) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	session, err := c.load(ctx)
	if err != nil || session == nil {
		return
	}
	if !session.Expired(c.now(), c.config.RefreshMargin) {
		return
	}
	if _, err := c.refreshLocked(ctx, session); err != nil && ctx.Err() == nil {
		c.logger.InfoContext(ctx, "auto refresh failed, session ended", slog.String("error", err.Error()))
	}
}

// refreshLocked trades the refresh token in. Failure clears the stored session.
func (c *IdentityClientImpl) refreshLocked(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	start := c.now()
	refreshed, err := c.provider.Refresh(ctx, session.RefreshToken)
	c.metrics.RecordProviderCall("refresh", err, c.now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			// the caller went away, the stored session may still be good
			return nil, domain.NewAuthError(domain.ErrRefreshFailed, "", err)
		}
		c.clearLocked(ctx)
		return nil, domain.NewAuthError(domain.ErrRefreshFailed, "", err)
	}

	if err := c.persist(ctx, refreshed); err != nil {
		c.clearLocked(ctx)
		return nil, domain.NewAuthError(domain.ErrRefreshFailed, "", err)
	}
	c.emit(domain.SessionTokenRefreshed, refreshed)
	return copySession(refreshed), nil
}

// clearLocked removes the stored session and announces the sign-out
func (c *IdentityClientImpl) clearLocked(ctx context.Context) {
	if err := c.store.Remove(context.WithoutCancel(ctx), c.config.SessionKey); err != nil {
		c.logger.ErrorContext(ctx, "failed to remove stored session", slog.String("error", err.Error()))
	}
	c.emit(domain.SessionSignedOut, nil)
}

func (c *IdentityClientImpl) load(ctx context.Context) (*domain.Session, error) {
	raw, found, err := c.store.Get(ctx, c.config.SessionKey)
	if errors.Is(err, domain.ErrTokenUnreadable) {
		c.discardCorrupt(ctx, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored session: %w", err)
	}
	if !found {
		return nil, nil
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || !session.Valid() {
		c.discardCorrupt(ctx, err)
		return nil, nil
	}
	return &session, nil
}

func (c *IdentityClientImpl) discardCorrupt(ctx context.Context, cause error) {
	attrs := []any{}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	c.logger.WarnContext(ctx, "discarding unreadable stored session", attrs...)
	if err := c.store.Remove(ctx, c.config.SessionKey); err != nil {
		c.logger.ErrorContext(ctx, "failed to remove stored session", slog.String("error", err.Error()))
	}
}

func (c *IdentityClientImpl) persist(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.store.Set(ctx, c.config.SessionKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (c *IdentityClientImpl) emit(event domain.SessionEvent, session *domain.Session) {
	change := domain.NewSessionChange(event, session)

	c.listenersMu.Lock()
	listeners := make([]domain.SessionListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

// peekExpiry reads the exp claim without verifying the signature. The provider
// validates the token itself; this only decides between a user lookup and a refresh.
func peekExpiry(accessToken string) time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.UTC()
}

func providerFailure(err error) error {
	if errors.Is(err, domain.ErrProvider) {
		return err
	}
	return domain.NewAuthError(domain.ErrProvider, "", err)
}

func linkFailure(err error) error {
	return domain.NewAuthError(domain.ErrInvalidOrExpiredLink, "This sign-in link is invalid or has expired", err)
}

func copySession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

var _ domain.IdentityClient = (*IdentityClientImpl)(nil)
