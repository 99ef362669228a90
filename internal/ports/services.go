package ports

import (
	"context"
	"io"

	"github.com/seu-repo/siga-mi/internal/domain"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (string, string, error) // token, refresh, err
	Register(ctx context.Context, user *domain.User) error
	RefreshToken(ctx context.Context, token string) (string, error)
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
	// GuestToken mints a signed token carrying a synthetic caller identity
	// for unauthenticated sessions.
	GuestToken(ctx context.Context) (string, string, error) // token, callerID, err
}

// AnsweringClient forwards a question plus accumulated profile context to the
// backend answering service. The returned body may be plain text or an
// SSE-style fragment stream; the caller decodes it leniently.
//
// Errors distinguish ErrAuthRequired from ErrQuotaExceeded: one prompts
// login, the other prompts upgrade.
type AnsweringClient interface {
	Ask(ctx context.Context, question string, profile map[string]string, language string) (io.ReadCloser, error)
}

// AvatarClient is the speech/avatar subsystem contract. Commands carry the
// session token so the subsystem can echo it back on per-utterance events;
// readiness transitions are reported asynchronously through the registered
// listener and apply to every session on the connection.
type AvatarClient interface {
	Speak(ctx context.Context, session, text, language string) error
	// Interrupt stops the session's current utterance and waits for
	// acknowledgement or a short fixed timeout.
	Interrupt(ctx context.Context, session string) error
	Close() error
}

// AvatarListener receives asynchronous subsystem notifications.
type AvatarListener interface {
	OnAvatarEvent(event domain.AvatarEvent)
}

// ReportRenderer is the external document rendering collaborator, invoked
// only from the structured report flow's terminal transition.
type ReportRenderer interface {
	Generate(ctx context.Context, req *domain.ReportRequest) (*domain.ReportHandle, error)
}

// TierAuthority supplies the caller's quota ceiling and tier flags. The
// orchestrator never computes billing itself.
type TierAuthority interface {
	ResolveTier(ctx context.Context, callerID string) (*domain.Tier, error)
}

// EscalationService hands a stuck conversation to a human.
type EscalationService interface {
	Escalate(ctx context.Context, session *domain.Session, reason string) error
}

// EventSink pushes dialogue, timer and speech events to whatever transport
// the caller is connected on.
type EventSink interface {
	Push(callerID string, event interface{})
}
