package domain

import "errors"

// Failure taxonomy for answering-service turns. Everything caught at the turn
// boundary is converted into a recovery message with a bounded choice set;
// raw error text never reaches the caller.
var (
	// ErrTransientNetwork covers retryable backend failures. Shown as a
	// "try again" choice.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthRequired means the answering service wants an authenticated
	// caller. Prompts login/signup; profile and transcript are preserved.
	ErrAuthRequired = errors.New("authentication required")

	// ErrQuotaExceeded means the caller's question allowance is spent.
	// Prompts upgrade or the simple report flow.
	ErrQuotaExceeded = errors.New("question quota exceeded")

	// ErrEmptyResponse is a decoded answer with no content. Treated as
	// transient by the dialogue machine.
	ErrEmptyResponse = errors.New("empty response from answering service")

	// ErrDuplicateDispatch marks a user event arriving while no input is
	// awaited. Dropped silently, logged only.
	ErrDuplicateDispatch = errors.New("duplicate dispatch dropped")

	// ErrSessionNotFound is returned when no snapshot exists for a caller.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStaleGeneration marks an async completion that belongs to a prior
	// session generation and must be discarded.
	ErrStaleGeneration = errors.New("stale session generation")
)

// IsRecoverable reports whether the error maps to the retry/escalate
// recovery choice set rather than the auth or quota branches.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrEmptyResponse)
}
