package dialogue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/adapter/ai/answering"
	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/service/followup"
	"github.com/seu-repo/siga-mi/internal/service/session"
)

func (s *Service) handleFreeForm(ctx context.Context, a *session.Active, input domain.Input) error {
	if input.Type == domain.InputChoice {
		return s.handleRecoveryChoice(ctx, a, input)
	}
	return s.askAndAnswer(ctx, a, input.Value)
}

// handleRecoveryChoice consumes the bounded choice set presented after a
// failed turn.
func (s *Service) handleRecoveryChoice(ctx context.Context, a *session.Active, input domain.Input) error {
	switch input.Value {
	case "retry":
		a.Mu.Lock()
		question := a.S.LastQuestion
		a.Mu.Unlock()
		if question == "" {
			s.endTurn(ctx, a)
			return nil
		}
		return s.askAndAnswer(ctx, a, question)

	case "escalate":
		a.Mu.Lock()
		snapshot := *a.S
		a.Mu.Unlock()
		if err := s.escalation.Escalate(ctx, &snapshot, "caller requested human help"); err != nil {
			s.log.Error("Escalation failed", zap.String("caller_id", a.S.CallerID), zap.Error(err))
		}
		s.publish(SubjectEscalationRequested, map[string]string{"caller_id": snapshot.CallerID})
		a.Mu.Lock()
		msg := s.tr(ctx, a, "escalation.confirmed", nil)
		s.say(a, domain.NewAssistantMessage(msg))
		s.speak(a, msg)
		s.endTurnLocked(ctx, a)
		return nil

	case "login", "signup":
		// The transport owns the actual auth exchange; the dialogue just
		// acknowledges and keeps the session resumable.
		a.Mu.Lock()
		msg := s.tr(ctx, a, "auth.redirect."+input.Value, nil)
		s.say(a, domain.NewAssistantMessage(msg))
		s.endTurnLocked(ctx, a)
		return nil

	default:
		// Unknown choice value, treat it as a literal question.
		return s.askAndAnswer(ctx, a, input.Value)
	}
}

// askAndAnswer runs one question/answer turn: quota, answering service,
// decode, follow-up extraction, transcript, speech, timer. The turn suspends
// on the network call; the generation captured before suspension guards the
// resumption.
func (s *Service) askAndAnswer(ctx context.Context, a *session.Active, question string) error {
	a.Mu.Lock()

	allowed, remaining := a.Runtime.Quota.Consume()
	if !allowed {
		s.say(a, domain.NewUserMessage(question))
		s.presentQuotaChoices(ctx, a)
		s.endTurnLocked(ctx, a)
		return nil
	}

	s.say(a, domain.NewUserMessage(question))
	a.S.LastQuestion = question
	s.saveLocked(ctx, a)

	gen := a.Generation()
	profile := make(map[string]string, len(a.S.Profile))
	for k, v := range a.S.Profile {
		profile[k] = v
	}
	language := a.S.Language
	a.Mu.Unlock()

	askCtx, cancel := context.WithTimeout(ctx, s.cfg.AskTimeout)
	defer cancel()

	start := time.Now()
	body, err := s.answering.Ask(askCtx, question, profile, language)
	if err != nil {
		return s.recoverTurn(ctx, a, gen, err)
	}
	text, err := answering.Decode(body)
	body.Close()
	telemetry.AnsweringLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return s.recoverTurn(ctx, a, gen, err)
	}

	res := followup.Extract(text)

	a.Mu.Lock()
	if a.Stale(gen) {
		a.Mu.Unlock()
		s.log.Info("Discarding stale answering-service completion",
			zap.String("caller_id", a.S.CallerID))
		return nil
	}

	// Clean answer strictly before its follow-up.
	s.say(a, domain.NewAssistantMessage(res.CleanAnswer))

	if remaining == 0 {
		// The question that spent the last allowance is still answered, but
		// its follow-up takes no input: the upgrade-or-report choice is the
		// only pending interactive message on the transcript.
		s.say(a, domain.NewAssistantMessage(res.Question))
		s.presentQuotaChoices(ctx, a)
	} else {
		s.say(a, domain.NewPromptMessage(res.Question, domain.InteractiveTextInput, nil))
	}

	s.speak(a, res.CleanAnswer+" "+res.Question)
	a.Runtime.Timer.ResetOnActivity()
	s.endTurnLocked(ctx, a)
	return nil
}

// recoverTurn converts an answering-service failure into a recovery message
// with a bounded choice set. No raw error text ever reaches the caller, and
// the session stays resumable.
func (s *Service) recoverTurn(ctx context.Context, a *session.Active, gen uint64, cause error) error {
	a.Mu.Lock()
	if a.Stale(gen) {
		a.Mu.Unlock()
		return nil
	}
	defer s.endTurnLocked(ctx, a)

	s.log.Warn("Answering turn failed",
		zap.String("caller_id", a.S.CallerID),
		zap.Error(cause))

	switch {
	case errors.Is(cause, domain.ErrAuthRequired):
		s.say(a, domain.NewPromptMessage(
			s.tr(ctx, a, "error.auth_required", nil),
			domain.InteractiveButtons,
			[]domain.Choice{
				{Label: s.tr(ctx, a, "choice.login", nil), Value: "login"},
				{Label: s.tr(ctx, a, "choice.signup", nil), Value: "signup"},
			},
		))

	case errors.Is(cause, domain.ErrQuotaExceeded):
		// The backend's own limiter fired; same degraded path as the local
		// tracker.
		s.presentQuotaChoices(ctx, a)

	default:
		// Transient network failures and empty responses share the retry path.
		s.say(a, domain.NewPromptMessage(
			s.tr(ctx, a, "error.transient", nil),
			domain.InteractiveButtons,
			[]domain.Choice{
				{Label: s.tr(ctx, a, "choice.retry", nil), Value: "retry"},
				{Label: s.tr(ctx, a, "choice.escalate", nil), Value: "escalate"},
			},
		))
	}
	return nil
}

// presentQuotaChoices shows the terminal upgrade-or-report choice. Caller
// holds a.Mu.
func (s *Service) presentQuotaChoices(ctx context.Context, a *session.Active) {
	prompt := s.tr(ctx, a, "quota.exhausted", nil)
	s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveButtons, []domain.Choice{
		{Label: s.tr(ctx, a, "choice.upgrade", nil), Value: "upgrade"},
		{Label: s.tr(ctx, a, "choice.simple_report", nil), Value: "report"},
	}))
	s.setState(a, domain.StateQuotaExhausted)
	s.sink.Push(a.S.CallerID, Event{Type: EventQuotaExhausted, Remaining: 0})
	s.speak(a, prompt)
}

func (s *Service) handleQuotaExhausted(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	s.say(a, domain.NewUserMessage(input.Value))

	switch input.Value {
	case "upgrade":
		prompt := s.tr(ctx, a, "upgrade.prompt", nil)
		s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveButtons, []domain.Choice{
			{Label: s.tr(ctx, a, "choice.simple_report", nil), Value: "report"},
			{Label: s.tr(ctx, a, "choice.done", nil), Value: "done"},
		}))
		s.setState(a, domain.StateUpgradePrompt)
		s.speak(a, prompt)
		s.endTurnLocked(ctx, a)
		return nil

	case "report":
		s.setState(a, domain.StateStructuredReportQA)
		s.promptReportQuestion(ctx, a)
		s.endTurnLocked(ctx, a)
		return nil

	default:
		s.presentQuotaChoices(ctx, a)
		s.endTurnLocked(ctx, a)
		return nil
	}
}

func (s *Service) handleUpgradePrompt(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	s.say(a, domain.NewUserMessage(input.Value))

	switch input.Value {
	case "report":
		s.setState(a, domain.StateStructuredReportQA)
		s.promptReportQuestion(ctx, a)
	default:
		farewell := s.tr(ctx, a, "farewell", nil)
		s.say(a, domain.NewAssistantMessage(farewell))
		s.setState(a, domain.StateTerminal)
		s.speak(a, farewell)
	}
	s.endTurnLocked(ctx, a)
	return nil
}

func (s *Service) handleTerminal(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	msg := s.tr(ctx, a, "terminal.restart_hint", nil)
	s.say(a, domain.NewAssistantMessage(msg))
	s.endTurnLocked(ctx, a)
	return nil
}
