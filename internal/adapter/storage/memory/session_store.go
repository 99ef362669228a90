package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/ports"
)

// SessionStore keeps session snapshots in process memory. Used when Redis is
// not configured and in local development; snapshots do not survive restarts,
// which the persistence contract permits.
type SessionStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

func NewSessionStore() ports.SessionStore {
	return &SessionStore{snapshots: make(map[string][]byte)}
}

func (s *SessionStore) Save(ctx context.Context, snapshot *domain.Session) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshots[snapshot.CallerID] = data
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Load(ctx context.Context, callerID string) (*domain.Session, error) {
	s.mu.RLock()
	data, ok := s.snapshots[callerID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var snapshot domain.Session
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *SessionStore) Delete(ctx context.Context, callerID string) error {
	s.mu.Lock()
	delete(s.snapshots, callerID)
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Close() error {
	return nil
}
