package domain

// SpeechRequest asks the avatar subsystem to speak one utterance. Ephemeral,
// never persisted. At most one request is in flight per session; a newer
// request pre-empts an older one still playing.
type SpeechRequest struct {
	Text         string `json:"text"`
	Language     string `json:"language"`
	SessionToken string `json:"session_token"`
}

// AvatarEvent is a readiness or playback notification from the speech
// subsystem. Readiness transitions arrive asynchronously.
type AvatarEvent struct {
	Type    AvatarEventType `json:"type"`
	Session string          `json:"session,omitempty"`
}

type AvatarEventType string

const (
	AvatarReady       AvatarEventType = "ready"
	AvatarNotReady    AvatarEventType = "not_ready"
	AvatarSpeechDone  AvatarEventType = "speech_done"
	AvatarInterrupted AvatarEventType = "interrupted"
)
