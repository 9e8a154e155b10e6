package mocks

import (
	"sync"
	"time"

	"github.com/you/abcauth/domain"
)

// Transition is one recorded phase change
type Transition struct {
	From domain.PhaseKind
	To   domain.PhaseKind
}

// MockMetricsRecorder implements domain.MetricsRecorder and keeps what it receives
type MockMetricsRecorder struct {
	mu             sync.Mutex
	Transitions    []Transition
	DeepLinks      []domain.DeepLinkOutcome
	ProfileEnsures []string
	ProviderCalls  []string
}

// NewMockMetricsRecorder creates an empty recorder
func NewMockMetricsRecorder() *MockMetricsRecorder {
	return &MockMetricsRecorder{}
}

func (m *MockMetricsRecorder) RecordTransition(from, to domain.PhaseKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitions = append(m.Transitions, Transition{From: from, To: to})
}

func (m *MockMetricsRecorder) RecordDeepLink(outcome domain.DeepLinkOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeepLinks = append(m.DeepLinks, outcome)
}

func (m *MockMetricsRecorder) RecordProfileEnsure(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileEnsures = append(m.ProfileEnsures, result)
}

func (m *MockMetricsRecorder) RecordProviderCall(operation string, err error, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProviderCalls = append(m.ProviderCalls, operation)
}

// EnsureResults returns a copy of the recorded profile ensure results
func (m *MockMetricsRecorder) EnsureResults() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ProfileEnsures...)
}

// Compile-time interface compliance verification
var _ domain.MetricsRecorder = (*MockMetricsRecorder)(nil)
