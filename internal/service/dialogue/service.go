package dialogue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/adapter/queue"
	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/ports"
	"github.com/seu-repo/siga-mi/internal/service/idletimer"
	"github.com/seu-repo/siga-mi/internal/service/quota"
	"github.com/seu-repo/siga-mi/internal/service/session"
	"github.com/seu-repo/siga-mi/internal/service/speech"
	"github.com/seu-repo/siga-mi/internal/service/translation"
)

// Queue subjects for dialogue side effects consumed by background workers.
const (
	SubjectReportRequested     = "dialogue.report.requested"
	SubjectSessionExpired      = "dialogue.session.expired"
	SubjectEscalationRequested = "dialogue.escalation.requested"
)

// Event types pushed to the caller's transport.
const (
	EventMessage        = "message"
	EventState          = "state"
	EventQuotaExhausted = "quota_exhausted"
	EventIdleWarning    = "idle_warning"
	EventIdleExtended   = "idle_extended"
	EventIdleExpired    = "idle_expired"
	EventReportReady    = "report_ready"
)

// Event is one transport-bound notification. Timer and speech callbacks post
// these instead of touching session state.
type Event struct {
	Type      string               `json:"type"`
	State     domain.DialogueState `json:"state,omitempty"`
	Message   *domain.Message      `json:"message,omitempty"`
	Remaining int                  `json:"remaining,omitempty"`
	Report    *domain.ReportHandle `json:"report,omitempty"`
}

type Config struct {
	// IdleDuration is the full inactivity window before avatar teardown.
	IdleDuration time.Duration
	// WarningWindow is the countdown portion at the end of IdleDuration.
	WarningWindow time.Duration
	// AskTimeout bounds one answering-service round trip.
	AskTimeout time.Duration
	// DefaultQuota applies when the tier authority is unavailable.
	DefaultQuota int
}

func (c Config) withDefaults() Config {
	if c.IdleDuration <= 0 {
		c.IdleDuration = 2 * time.Minute
	}
	if c.WarningWindow <= 0 {
		c.WarningWindow = 30 * time.Second
	}
	if c.AskTimeout <= 0 {
		c.AskTimeout = 60 * time.Second
	}
	if c.DefaultQuota <= 0 {
		c.DefaultQuota = 5
	}
	return c
}

// Service is the dialogue state machine. It owns session state exclusively:
// every mutation happens inside a dispatched turn, and turns never overlap
// thanks to the awaiting-input gate.
type Service struct {
	cfg        Config
	answering  ports.AnsweringClient
	avatar     ports.AvatarClient
	reports    ports.ReportRenderer
	tiers      ports.TierAuthority
	escalation ports.EscalationService
	translator *translation.Service
	sink       ports.EventSink
	mq         queue.MessageQueue
	log        *zap.Logger

	sessions *session.Manager
}

func NewService(
	store ports.SessionStore,
	answering ports.AnsweringClient,
	avatar ports.AvatarClient,
	reports ports.ReportRenderer,
	tiers ports.TierAuthority,
	escalation ports.EscalationService,
	translator *translation.Service,
	sink ports.EventSink,
	mq queue.MessageQueue,
	cfg Config,
	log *zap.Logger,
) *Service {
	s := &Service{
		cfg:        cfg.withDefaults(),
		answering:  answering,
		avatar:     avatar,
		reports:    reports,
		tiers:      tiers,
		escalation: escalation,
		translator: translator,
		sink:       sink,
		mq:         mq,
		log:        log,
	}
	s.sessions = session.NewManager(store, s.newRuntime, log)
	return s
}

func (s *Service) newRuntime(callerID string) *session.Runtime {
	rt := &session.Runtime{
		Quota:  quota.NewTracker(s.cfg.DefaultQuota, s.log),
		Speech: speech.NewCoordinator(s.avatar, callerID, s.log),
	}
	rt.Timer = idletimer.New(s.cfg.WarningWindow, time.Second, idletimer.Callbacks{
		OnWarning: func(remaining int) {
			s.sink.Push(callerID, Event{Type: EventIdleWarning, Remaining: remaining})
		},
		OnExtend: func() {
			s.sink.Push(callerID, Event{Type: EventIdleExtended})
		},
		OnExpire: func() {
			go s.handleIdleExpired(callerID)
		},
	}, s.log)
	return rt
}

// StartSession resolves (or restores) the caller's session and runs the
// welcome transition once. Safe against double invocation: the initialized
// flag is per session, never process-wide.
func (s *Service) StartSession(ctx context.Context, callerID, language string, guest bool) (*session.Active, error) {
	a, err := s.sessions.Resolve(ctx, callerID, func() *domain.Session {
		max := s.cfg.DefaultQuota
		if tier, terr := s.tiers.ResolveTier(ctx, callerID); terr == nil && tier != nil && tier.QuestionQuota > 0 {
			max = tier.QuestionQuota
		} else if terr != nil {
			s.log.Warn("Tier resolution failed, using default quota",
				zap.String("caller_id", callerID),
				zap.Error(terr))
		}
		return domain.NewSession(callerID, language, guest, max)
	})
	if err != nil {
		return nil, err
	}

	a.Mu.Lock()
	defer a.Mu.Unlock()

	if a.Runtime.Timer.Phase() == idletimer.PhaseExpired {
		// An expired idle chain tore the speech session down; a fresh start
		// is the explicit rearm.
		a.Runtime.Speech = speech.NewCoordinator(s.avatar, callerID, s.log)
	}
	a.Runtime.Timer.Arm(s.cfg.IdleDuration)

	if !a.S.Initialized {
		a.S.Initialized = true
		s.welcome(ctx, a)
		s.saveLocked(ctx, a)
	}
	return a, nil
}

// Dispatch applies one user input event to the session's current state.
// Duplicate dispatches while a turn is suspended are dropped and logged, never
// surfaced.
func (s *Service) Dispatch(ctx context.Context, callerID string, input domain.Input) error {
	a, ok := s.sessions.Lookup(callerID)
	if !ok {
		return domain.ErrSessionNotFound
	}

	a.Mu.Lock()
	if !a.S.AwaitingInput {
		a.Mu.Unlock()
		s.log.Warn("Duplicate dispatch dropped",
			zap.String("caller_id", callerID),
			zap.String("value", input.Value))
		telemetry.DuplicateDispatchTotal.Inc()
		return nil
	}
	// Cleared before any asynchronous work begins; re-set at turn end.
	a.S.AwaitingInput = false
	state := a.S.State
	a.Mu.Unlock()

	a.Runtime.Timer.ResetOnActivity()

	var err error
	switch state {
	case domain.StateWelcome, domain.StateDestinationSelect:
		err = s.handleDestination(ctx, a, input)
	case domain.StateOriginConfirmOrSelect:
		err = s.handleOrigin(ctx, a, input)
	case domain.StateGoalSelect:
		err = s.handleGoal(ctx, a, input)
	case domain.StateModeSelect:
		err = s.handleMode(ctx, a, input)
	case domain.StateFreeFormQA:
		err = s.handleFreeForm(ctx, a, input)
	case domain.StateStructuredReportQA:
		err = s.handleReport(ctx, a, input)
	case domain.StateQuotaExhausted:
		err = s.handleQuotaExhausted(ctx, a, input)
	case domain.StateUpgradePrompt:
		err = s.handleUpgradePrompt(ctx, a, input)
	case domain.StateTerminal:
		err = s.handleTerminal(ctx, a, input)
	default:
		s.log.Error("Input in unknown state",
			zap.String("caller_id", callerID),
			zap.String("state", string(state)))
		s.endTurn(ctx, a)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	telemetry.DialogueTurnsTotal.WithLabelValues(string(state), status).Inc()
	return err
}

// ExtendIdle applies the caller's "continue" choice from the warning overlay.
func (s *Service) ExtendIdle(callerID string) bool {
	a, ok := s.sessions.Lookup(callerID)
	if !ok {
		return false
	}
	return a.Runtime.Timer.Extend()
}

// SwitchLanguage changes the active language keeping the transcript intact.
func (s *Service) SwitchLanguage(ctx context.Context, callerID, language string) error {
	a, ok := s.sessions.Lookup(callerID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()
	a.S.Language = language
	s.saveLocked(ctx, a)
	s.sink.Push(callerID, Event{Type: EventState, State: a.S.State})
	return nil
}

// ResetSession destroys the caller's session on identity change or an
// explicit fresh start.
func (s *Service) ResetSession(ctx context.Context, callerID string) error {
	return s.sessions.Reset(ctx, callerID)
}

// Shutdown drains every live session on server stop.
func (s *Service) Shutdown() {
	s.sessions.Shutdown()
}

// OnAvatarEvent routes asynchronous avatar subsystem notifications to the
// owning session's speech coordinator. These arrive even while a turn is
// suspended. Readiness transitions without a session token describe the
// connection as a whole and fan out to every live coordinator.
func (s *Service) OnAvatarEvent(event domain.AvatarEvent) {
	if event.Session == "" {
		switch event.Type {
		case domain.AvatarReady:
			s.sessions.Range(func(a *session.Active) { a.Runtime.Speech.SetReady(true) })
		case domain.AvatarNotReady:
			s.sessions.Range(func(a *session.Active) { a.Runtime.Speech.SetReady(false) })
		default:
			s.log.Warn("Avatar event without session attribution dropped",
				zap.String("type", string(event.Type)))
		}
		return
	}

	a, ok := s.sessions.Lookup(event.Session)
	if !ok {
		return
	}
	switch event.Type {
	case domain.AvatarReady:
		a.Runtime.Speech.SetReady(true)
	case domain.AvatarNotReady:
		a.Runtime.Speech.SetReady(false)
	case domain.AvatarSpeechDone:
		a.Runtime.Speech.NotifyDone()
	case domain.AvatarInterrupted:
		s.log.Debug("Avatar reported interruption", zap.String("caller_id", event.Session))
	}
}

func (s *Service) handleIdleExpired(callerID string) {
	a, ok := s.sessions.Lookup(callerID)
	if !ok {
		return
	}
	a.Runtime.Speech.Stop()
	s.sink.Push(callerID, Event{Type: EventIdleExpired})
	s.publish(SubjectSessionExpired, map[string]string{"caller_id": callerID})
	s.log.Info("Avatar session torn down after inactivity", zap.String("caller_id", callerID))
}

// --- turn helpers ---

// say appends a message and pushes it to the transport. Caller holds a.Mu.
func (s *Service) say(a *session.Active, msg domain.Message) {
	a.S.Append(msg)
	s.sink.Push(a.S.CallerID, Event{Type: EventMessage, Message: &msg})
}

// setState transitions the machine and notifies the transport. Caller holds a.Mu.
func (s *Service) setState(a *session.Active, state domain.DialogueState) {
	a.S.State = state
	s.sink.Push(a.S.CallerID, Event{Type: EventState, State: state})
}

// endTurn re-opens the gate and snapshots the session.
func (s *Service) endTurn(ctx context.Context, a *session.Active) {
	a.Mu.Lock()
	defer a.Mu.Unlock()
	a.S.AwaitingInput = true
	s.saveLocked(ctx, a)
}

// saveLocked snapshots the session on every transcript mutation. Persistence
// failures are logged, never surfaced: the in-memory session stays valid.
func (s *Service) saveLocked(ctx context.Context, a *session.Active) {
	a.S.Quota.Used = a.Runtime.Quota.Used()
	if err := s.sessions.Save(ctx, a); err != nil {
		s.log.Error("Failed to snapshot session",
			zap.String("caller_id", a.S.CallerID),
			zap.Error(err))
	}
}

// speak issues a single speech request for the turn's assistant output.
func (s *Service) speak(a *session.Active, text string) {
	if text == "" {
		return
	}
	a.Runtime.Speech.Request(text, a.S.Language)
}

func (s *Service) tr(ctx context.Context, a *session.Active, key string, params map[string]string) string {
	return s.translator.Translate(ctx, a.S.Language, key, params)
}

func (s *Service) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to marshal queue payload", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.mq.Publish(subject, data); err != nil {
		s.log.Error("Failed to publish queue message", zap.String("subject", subject), zap.Error(err))
	}
}
