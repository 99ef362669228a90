package mocks

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/seu-repo/siga-mi/internal/domain"
)

// MockAnsweringClient is a mock implementation of AnsweringClient interface
type MockAnsweringClient struct {
	AskFunc func(ctx context.Context, question string, profile map[string]string, language string) (io.ReadCloser, error)

	mu        sync.Mutex
	questions []string
}

func (m *MockAnsweringClient) Ask(ctx context.Context, question string, profile map[string]string, language string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.questions = append(m.questions, question)
	m.mu.Unlock()

	if m.AskFunc != nil {
		return m.AskFunc(ctx, question, profile, language)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

// AskedQuestions returns every question forwarded so far.
func (m *MockAnsweringClient) AskedQuestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.questions))
	copy(out, m.questions)
	return out
}

// PlainAnswer builds an Ask response body carrying a plain text answer.
func PlainAnswer(text string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(text))
}

// MockAvatarClient is a mock implementation of AvatarClient interface
type MockAvatarClient struct {
	SpeakFunc     func(ctx context.Context, session, text, language string) error
	InterruptFunc func(ctx context.Context, session string) error
	CloseFunc     func() error

	mu         sync.Mutex
	spoken     []string
	sessions   []string
	interrupts int
}

func (m *MockAvatarClient) Speak(ctx context.Context, session, text, language string) error {
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.sessions = append(m.sessions, session)
	m.mu.Unlock()

	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, session, text, language)
	}
	return nil
}

func (m *MockAvatarClient) Interrupt(ctx context.Context, session string) error {
	m.mu.Lock()
	m.interrupts++
	m.mu.Unlock()

	if m.InterruptFunc != nil {
		return m.InterruptFunc(ctx, session)
	}
	return nil
}

func (m *MockAvatarClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockAvatarClient) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// SpokenSessions returns the session token attached to each utterance, in
// the same order as Spoken.
func (m *MockAvatarClient) SpokenSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sessions))
	copy(out, m.sessions)
	return out
}

func (m *MockAvatarClient) Interrupts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupts
}

// MockTierAuthority is a mock implementation of TierAuthority interface
type MockTierAuthority struct {
	ResolveTierFunc func(ctx context.Context, callerID string) (*domain.Tier, error)
}

func (m *MockTierAuthority) ResolveTier(ctx context.Context, callerID string) (*domain.Tier, error) {
	if m.ResolveTierFunc != nil {
		return m.ResolveTierFunc(ctx, callerID)
	}
	return &domain.Tier{Name: "free", QuestionQuota: 5}, nil
}

// MockReportRenderer is a mock implementation of ReportRenderer interface
type MockReportRenderer struct {
	GenerateFunc func(ctx context.Context, req *domain.ReportRequest) (*domain.ReportHandle, error)

	mu       sync.Mutex
	requests []*domain.ReportRequest
}

func (m *MockReportRenderer) Generate(ctx context.Context, req *domain.ReportRequest) (*domain.ReportHandle, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &domain.ReportHandle{ID: "report-1", URL: "https://reports.local/report-1"}, nil
}

func (m *MockReportRenderer) Requests() []*domain.ReportRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ReportRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// MockEscalationService is a mock implementation of EscalationService interface
type MockEscalationService struct {
	EscalateFunc func(ctx context.Context, session *domain.Session, reason string) error

	mu    sync.Mutex
	count int
}

func (m *MockEscalationService) Escalate(ctx context.Context, session *domain.Session, reason string) error {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()

	if m.EscalateFunc != nil {
		return m.EscalateFunc(ctx, session, reason)
	}
	return nil
}

func (m *MockEscalationService) Escalations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// MockEventSink is a mock implementation of EventSink interface
type MockEventSink struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func NewMockEventSink() *MockEventSink {
	return &MockEventSink{events: make(map[string][]interface{})}
}

func (m *MockEventSink) Push(callerID string, event interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[callerID] = append(m.events[callerID], event)
}

func (m *MockEventSink) Events(callerID string) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[callerID]
}
