package domain

import (
	"time"
)

// DialogueState identifies the current step of the guided conversation.
type DialogueState string

const (
	StateWelcome               DialogueState = "welcome"
	StateDestinationSelect     DialogueState = "destination_select"
	StateOriginConfirmOrSelect DialogueState = "origin_confirm_or_select"
	StateGoalSelect            DialogueState = "goal_select"
	StateModeSelect            DialogueState = "mode_select"
	StateFreeFormQA            DialogueState = "free_form_qa"
	StateStructuredReportQA    DialogueState = "structured_report_qa"
	StateQuotaExhausted        DialogueState = "quota_exhausted"
	StateUpgradePrompt         DialogueState = "upgrade_prompt"
	StateTerminal              DialogueState = "terminal"
)

// Goal categories selectable during intake. The structured report flow keys
// its question list on these values.
const (
	GoalWork   = "work"
	GoalStudy  = "study"
	GoalFamily = "family"
	GoalVisit  = "visit"
)

// Quota tracks free-form question usage for the session's tier.
type Quota struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

func (q Quota) Remaining() int {
	if q.Used >= q.Max {
		return 0
	}
	return q.Max - q.Used
}

// Session is the single unit of conversation state, one per caller.
// Anonymous callers get a synthetic guest ID. Profile keys are add-only;
// values may be overwritten. The transcript is append-only while the session
// lives and replaced wholesale on restore.
type Session struct {
	ID       string        `json:"id"`
	CallerID string        `json:"caller_id"`
	Guest    bool          `json:"guest"`
	State    DialogueState `json:"state"`
	Language string        `json:"language"`

	Profile    map[string]string `json:"profile"`
	Transcript []Message         `json:"transcript"`
	Quota      Quota             `json:"quota"`

	// ReportAnswers accumulates the structured report flow answers in order.
	ReportAnswers []ReportAnswer `json:"report_answers,omitempty"`
	// ReportStep is the index of the next structured question to ask.
	ReportStep int `json:"report_step"`

	// LastQuestion is kept so the retry recovery choice can re-ask it.
	LastQuestion string `json:"last_question,omitempty"`

	// AwaitingInput gates user-driven transitions. It is cleared atomically
	// before a turn starts any asynchronous work; dispatches arriving while
	// it is false are dropped.
	AwaitingInput bool `json:"awaiting_input"`

	// Initialized guards the welcome transition against double invocation.
	// Per-session, never a process-wide flag; set exactly once.
	Initialized bool `json:"initialized"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportAnswer is one answered question of the structured report flow.
type ReportAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func NewSession(callerID, language string, guest bool, quotaMax int) *Session {
	now := time.Now()
	return &Session{
		ID:            callerID,
		CallerID:      callerID,
		Guest:         guest,
		State:         StateWelcome,
		Language:      language,
		Profile:       make(map[string]string),
		Quota:         Quota{Max: quotaMax},
		AwaitingInput: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetSlot records a profile fact. Keys are only ever added, never removed.
func (s *Session) SetSlot(key, value string) {
	if s.Profile == nil {
		s.Profile = make(map[string]string)
	}
	s.Profile[key] = value
}

func (s *Session) Slot(key string) string {
	return s.Profile[key]
}

// Append adds messages to the transcript preserving causal order.
func (s *Session) Append(msgs ...Message) {
	s.Transcript = append(s.Transcript, msgs...)
	s.UpdatedAt = time.Now()
}

// PendingInteractive returns the latest un-actioned interactive message, if
// any. At most one such message exists at a time.
func (s *Session) PendingInteractive() *Message {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		m := s.Transcript[i]
		if m.Author == AuthorUser {
			return nil
		}
		if m.Interactive != InteractiveNone {
			return &s.Transcript[i]
		}
	}
	return nil
}

// Tier is the caller's plan as resolved by the external billing authority.
// The orchestrator treats it as an opaque input.
type Tier struct {
	Name          string `json:"name"`
	QuestionQuota int    `json:"question_quota"`
}

// InputType discriminates dispatched user events.
type InputType string

const (
	InputChoice InputType = "choice"
	InputText   InputType = "text"
)

// Input is one user-driven dialogue event: a selected choice value or free
// text. Every transition consumes exactly one Input.
type Input struct {
	Type  InputType `json:"type"`
	Value string    `json:"value"`
}
