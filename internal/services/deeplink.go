package services

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/you/abcauth/domain"
)

const invalidLinkFormat = "invalid link format"

// DeepLinkService implements domain.DeepLinkHandler
type DeepLinkService struct {
	client   domain.IdentityClient
	logger   *slog.Logger
	authHost string
	schemes  map[string]struct{}

	// mu serializes Handle so two callbacks never exchange tokens at the same time
	mu sync.Mutex
}

// NewDeepLinkService creates the handler. An empty schemes list accepts any scheme.
func NewDeepLinkService(client domain.IdentityClient, logger *slog.Logger, authHost string, schemes []string) *DeepLinkService {
	if authHost == "" {
		authHost = "auth"
	}
	allowed := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		allowed[strings.ToLower(s)] = struct{}{}
	}
	return &DeepLinkService{
		client:   client,
		logger:   logger,
		authHost: strings.ToLower(authHost),
		schemes:  allowed,
	}
}

// Classify reports whether rawURL is an auth callback. It never fails.
func (s *DeepLinkService) Classify(rawURL string) bool {
	u, ok := s.parse(rawURL)
	if !ok {
		return false
	}
	return strings.EqualFold(u.Host, s.authHost) || strings.Contains(strings.ToLower(u.Path), s.authHost)
}

func (s *DeepLinkService) parse(rawURL string) (*url.URL, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	if len(s.schemes) > 0 {
		if _, ok := s.schemes[strings.ToLower(u.Scheme)]; !ok {
			return nil, false
		}
	}
	return u, true
}

// Handle processes one incoming URL. Links that are not auth callbacks are
// reported as unrecognized and succeed without side effects.
func (s *DeepLinkService) Handle(ctx context.Context, rawURL string) domain.DeepLinkOutcome {
	if !s.Classify(rawURL) {
		return domain.DeepLinkOutcome{RecognizedAsAuthLink: false, Success: true}
	}
	u, _ := s.parse(rawURL)
	params := linkParams(u)

	s.mu.Lock()
	defer s.mu.Unlock()

	accessToken, refreshToken := params.Get("access_token"), params.Get("refresh_token")
	switch {
	case accessToken != "" && refreshToken != "":
		if _, err := s.client.ExchangeDeepLinkTokens(ctx, accessToken, refreshToken); err != nil {
			s.logger.InfoContext(ctx, "auth link exchange failed",
				slog.String("url_host", u.Host),
				slog.String("error", err.Error()),
			)
			return failedOutcome(domain.UserMessage(err))
		}
		return domain.DeepLinkOutcome{RecognizedAsAuthLink: true, Success: true}

	case params.Get("error") != "" || params.Get("error_description") != "":
		msg := params.Get("error_description")
		if msg == "" {
			msg = params.Get("error")
		}
		s.logger.InfoContext(ctx, "auth link carried an error",
			slog.String("url_host", u.Host),
			slog.String("error_code", params.Get("error_code")),
		)
		return failedOutcome(msg)
	}

	return failedOutcome(invalidLinkFormat)
}

// linkParams merges query and fragment parameters. Query values win.
func linkParams(u *url.URL) url.Values {
	params := url.Values{}
	if u.Fragment != "" {
		// malformed pairs are skipped, the rest are kept
		fragment, _ := url.ParseQuery(u.EscapedFragment())
		for k, v := range fragment {
			params[k] = v
		}
	}
	for k, v := range u.Query() {
		params[k] = v
	}
	return params
}

func failedOutcome(msg string) domain.DeepLinkOutcome {
	return domain.DeepLinkOutcome{RecognizedAsAuthLink: true, Success: false, ErrorMessage: msg}
}

var _ domain.DeepLinkHandler = (*DeepLinkService)(nil)
