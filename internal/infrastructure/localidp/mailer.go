package localidp

import (
	"context"
	"log/slog"

	"github.com/you/abcauth/domain"
)

// LogMailer prints sign-in messages to the log instead of sending email
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendSignIn implements domain.Mailer
func (m *LogMailer) SendSignIn(ctx context.Context, email, code, link string) error {
	attrs := []any{
		slog.String("email", email),
		slog.String("code", code),
	}
	if link != "" {
		attrs = append(attrs, slog.String("magic_link", link))
	}
	m.logger.InfoContext(ctx, "development sign-in message", attrs...)
	return nil
}

var _ domain.Mailer = (*LogMailer)(nil)
