package ports

import (
	"context"
	"time"

	"github.com/seu-repo/siga-mi/internal/domain"
)

// SessionStore persists session snapshots keyed by caller identity. It is
// scoped to the lifetime of a browsing session; durability across restarts
// is a driver property, not a contract.
type SessionStore interface {
	Save(ctx context.Context, snapshot *domain.Session) error
	// Load returns (nil, nil) when no snapshot exists for the caller.
	Load(ctx context.Context, callerID string) (*domain.Session, error)
	Delete(ctx context.Context, callerID string) error
	Close() error
}

// TranscriptRepository archives finished transcripts for later review.
type TranscriptRepository interface {
	SaveMessages(ctx context.Context, sessionID string, msgs []domain.Message) error
	FindBySession(ctx context.Context, sessionID string) ([]domain.Message, error)
}

type UserRepository interface {
	Save(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

// TranslationStore is the external key/value translation collaborator.
// Lookups that miss fall back to the key verbatim at the service layer.
type TranslationStore interface {
	// LoadLanguage returns every (category.key -> value) pair for a language.
	LoadLanguage(ctx context.Context, language string) (map[string]string, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
