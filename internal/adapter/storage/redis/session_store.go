package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/ports"
)

const keyPrefix = "siga:session:"

// SessionStore persists session snapshots in Redis. Snapshots only need to
// survive navigation within a browsing session, so every write refreshes a
// sliding TTL instead of living forever.
type SessionStore struct {
	client *goredis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewSessionStore(url string, ttl time.Duration, log *zap.Logger) (ports.SessionStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	log.Info("Session store connected to Redis", zap.Duration("ttl", ttl))
	return &SessionStore{client: client, ttl: ttl, log: log}, nil
}

func (s *SessionStore) Save(ctx context.Context, snapshot *domain.Session) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	return s.client.Set(ctx, keyPrefix+snapshot.CallerID, data, s.ttl).Err()
}

func (s *SessionStore) Load(ctx context.Context, callerID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+callerID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot domain.Session
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// A corrupt snapshot is treated as absent; the caller starts fresh.
		s.log.Warn("Discarding corrupt session snapshot",
			zap.String("caller_id", callerID),
			zap.Error(err))
		return nil, nil
	}
	return &snapshot, nil
}

func (s *SessionStore) Delete(ctx context.Context, callerID string) error {
	return s.client.Del(ctx, keyPrefix+callerID).Err()
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}
