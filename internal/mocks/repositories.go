package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/seu-repo/siga-mi/internal/domain"
)

// MockSessionStore is a mock implementation of SessionStore interface
type MockSessionStore struct {
	SaveFunc   func(ctx context.Context, snapshot *domain.Session) error
	LoadFunc   func(ctx context.Context, callerID string) (*domain.Session, error)
	DeleteFunc func(ctx context.Context, callerID string) error

	mu        sync.Mutex
	snapshots map[string][]byte
	saves     int
}

func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{snapshots: make(map[string][]byte)}
}

func (m *MockSessionStore) Save(ctx context.Context, snapshot *domain.Session) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, snapshot)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshots[snapshot.CallerID] = data
	m.saves++
	m.mu.Unlock()
	return nil
}

func (m *MockSessionStore) Load(ctx context.Context, callerID string) (*domain.Session, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, callerID)
	}
	m.mu.Lock()
	data, ok := m.snapshots[callerID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MockSessionStore) Delete(ctx context.Context, callerID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, callerID)
	}
	m.mu.Lock()
	delete(m.snapshots, callerID)
	m.mu.Unlock()
	return nil
}

func (m *MockSessionStore) Close() error {
	return nil
}

// Saves reports how many snapshots were written.
func (m *MockSessionStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	SaveFunc        func(ctx context.Context, user *domain.User) error
	FindByIDFunc    func(ctx context.Context, id string) (*domain.User, error)
	FindByEmailFunc func(ctx context.Context, email string) (*domain.User, error)
}

func (m *MockUserRepository) Save(ctx context.Context, user *domain.User) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, user)
	}
	return nil
}

func (m *MockUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.FindByEmailFunc != nil {
		return m.FindByEmailFunc(ctx, email)
	}
	return nil, nil
}

// MockTranscriptRepository is a mock implementation of TranscriptRepository
type MockTranscriptRepository struct {
	SaveMessagesFunc  func(ctx context.Context, sessionID string, msgs []domain.Message) error
	FindBySessionFunc func(ctx context.Context, sessionID string) ([]domain.Message, error)
}

func (m *MockTranscriptRepository) SaveMessages(ctx context.Context, sessionID string, msgs []domain.Message) error {
	if m.SaveMessagesFunc != nil {
		return m.SaveMessagesFunc(ctx, sessionID, msgs)
	}
	return nil
}

func (m *MockTranscriptRepository) FindBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if m.FindBySessionFunc != nil {
		return m.FindBySessionFunc(ctx, sessionID)
	}
	return []domain.Message{}, nil
}

// MockTranslationStore is a mock implementation of TranslationStore
type MockTranslationStore struct {
	LoadLanguageFunc func(ctx context.Context, language string) (map[string]string, error)

	mu    sync.Mutex
	loads map[string]int
}

func NewMockTranslationStore() *MockTranslationStore {
	return &MockTranslationStore{loads: make(map[string]int)}
}

func (m *MockTranslationStore) LoadLanguage(ctx context.Context, language string) (map[string]string, error) {
	m.mu.Lock()
	m.loads[language]++
	m.mu.Unlock()

	if m.LoadLanguageFunc != nil {
		return m.LoadLanguageFunc(ctx, language)
	}
	return map[string]string{}, nil
}

// Loads reports how many times a language was loaded from the store.
func (m *MockTranslationStore) Loads(language string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[language]
}
