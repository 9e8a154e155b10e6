package mocks

import (
	"context"
	"sync"

	"github.com/you/abcauth/domain"
)

// SentSignIn captures one delivered sign-in message
type SentSignIn struct {
	Email string
	Code  string
	Link  string
}

// MockMailer implements domain.Mailer for testing and records deliveries
type MockMailer struct {
	SendSignInFunc func(ctx context.Context, email, code, link string) error

	mu   sync.Mutex
	sent []SentSignIn
}

// NewMockMailer creates a new MockMailer with default behaviors
func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) SendSignIn(ctx context.Context, email, code, link string) error {
	if m.SendSignInFunc != nil {
		if err := m.SendSignInFunc(ctx, email, code, link); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentSignIn{Email: email, Code: code, Link: link})
	return nil
}

// Last returns the most recent delivery
func (m *MockMailer) Last() (SentSignIn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentSignIn{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// Count returns the number of deliveries
func (m *MockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Compile-time interface compliance verification
var _ domain.Mailer = (*MockMailer)(nil)
