package dialogue

import (
	"context"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/service/session"
)

// Intake option values. Labels are resolved through the translation catalog
// at prompt time so a mid-session language switch re-keys them.
var destinationValues = []string{"usa", "canada", "uk", "australia", "germany", "portugal"}

var originValues = []string{"brazil", "mexico", "india", "china", "philippines", "nigeria", "colombia", "other"}

var goalValues = []string{domain.GoalWork, domain.GoalStudy, domain.GoalFamily, domain.GoalVisit}

func (s *Service) countryChoices(ctx context.Context, a *session.Active, values []string) []domain.Choice {
	choices := make([]domain.Choice, 0, len(values))
	for _, v := range values {
		choices = append(choices, domain.Choice{
			Label: s.tr(ctx, a, "country."+v, nil),
			Value: v,
		})
	}
	return choices
}

// welcome runs once per session: greeting plus the destination selector.
// Caller holds a.Mu.
func (s *Service) welcome(ctx context.Context, a *session.Active) {
	greeting := s.tr(ctx, a, "welcome.greeting", nil)
	s.say(a, domain.NewAssistantMessage(greeting))
	s.say(a, domain.NewPromptMessage(
		s.tr(ctx, a, "destination.prompt", nil),
		domain.InteractiveSelect,
		s.countryChoices(ctx, a, destinationValues),
	))
	s.setState(a, domain.StateDestinationSelect)
	s.speak(a, greeting)
}

func (s *Service) handleDestination(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	defer s.endTurnLocked(ctx, a)

	a.S.SetSlot("destination", input.Value)
	s.say(a, domain.NewUserMessage(input.Value))

	if origin := a.S.Slot("origin"); origin != "" {
		// Origin already known from the caller's profile: yes/no confirmation
		// instead of the full list.
		prompt := s.tr(ctx, a, "origin.confirm", map[string]string{"origin": s.tr(ctx, a, "country."+origin, nil)})
		s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveButtons, []domain.Choice{
			{Label: s.tr(ctx, a, "choice.yes", nil), Value: "yes"},
			{Label: s.tr(ctx, a, "choice.no", nil), Value: "no"},
		}))
		s.setState(a, domain.StateOriginConfirmOrSelect)
		s.speak(a, prompt)
		return nil
	}

	prompt := s.tr(ctx, a, "origin.prompt", nil)
	s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveSelect, s.countryChoices(ctx, a, originValues)))
	s.setState(a, domain.StateOriginConfirmOrSelect)
	s.speak(a, prompt)
	return nil
}

func (s *Service) handleOrigin(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	defer s.endTurnLocked(ctx, a)

	s.say(a, domain.NewUserMessage(input.Value))

	switch input.Value {
	case "yes":
		// Known origin confirmed, nothing to record.
	case "no":
		// Rejected the profile origin: fall back to the full selector and
		// stay in this state for one more input.
		prompt := s.tr(ctx, a, "origin.prompt", nil)
		s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveSelect, s.countryChoices(ctx, a, originValues)))
		s.speak(a, prompt)
		return nil
	default:
		a.S.SetSlot("origin", input.Value)
	}

	prompt := s.tr(ctx, a, "goal.prompt", nil)
	choices := make([]domain.Choice, 0, len(goalValues))
	for _, g := range goalValues {
		choices = append(choices, domain.Choice{Label: s.tr(ctx, a, "goal."+g, nil), Value: g})
	}
	s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveSelect, choices))
	s.setState(a, domain.StateGoalSelect)
	s.speak(a, prompt)
	return nil
}

func (s *Service) handleGoal(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	defer s.endTurnLocked(ctx, a)

	a.S.SetSlot("goal", input.Value)
	s.say(a, domain.NewUserMessage(input.Value))

	prompt := s.tr(ctx, a, "mode.prompt", nil)
	s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveButtons, []domain.Choice{
		{Label: s.tr(ctx, a, "mode.free_form", nil), Value: "free_form"},
		{Label: s.tr(ctx, a, "mode.report", nil), Value: "report"},
	}))
	s.setState(a, domain.StateModeSelect)
	s.speak(a, prompt)
	return nil
}

func (s *Service) handleMode(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	s.say(a, domain.NewUserMessage(input.Value))

	switch input.Value {
	case "report":
		s.setState(a, domain.StateStructuredReportQA)
		s.promptReportQuestion(ctx, a)
		s.endTurnLocked(ctx, a)
		return nil
	case "free_form":
		s.setState(a, domain.StateFreeFormQA)
		seed := s.seedQuestion(a)
		a.Mu.Unlock()
		// The seed question is forwarded like any caller question and spends
		// quota like one.
		return s.askAndAnswer(ctx, a, seed)
	default:
		s.log.Warn("Unknown mode choice", zap.String("value", input.Value))
		prompt := s.tr(ctx, a, "mode.prompt", nil)
		s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveButtons, []domain.Choice{
			{Label: s.tr(ctx, a, "mode.free_form", nil), Value: "free_form"},
			{Label: s.tr(ctx, a, "mode.report", nil), Value: "report"},
		}))
		s.endTurnLocked(ctx, a)
		return nil
	}
}

// seedQuestion synthesizes the first free-form question from the intake
// profile. Caller holds a.Mu.
func (s *Service) seedQuestion(a *session.Active) string {
	origin := a.S.Slot("origin")
	destination := a.S.Slot("destination")
	goal := a.S.Slot("goal")

	var want string
	switch goal {
	case domain.GoalWork:
		want = "work"
	case domain.GoalStudy:
		want = "study"
	case domain.GoalFamily:
		want = "join family members"
	default:
		want = "visit"
	}
	if origin == "" {
		origin = "my country"
	}
	return "What are the main visa options and requirements for someone from " +
		origin + " who wants to " + want + " in " + destination + "?"
}

// endTurnLocked is endTurn for handlers that already hold a.Mu.
func (s *Service) endTurnLocked(ctx context.Context, a *session.Active) {
	a.S.AwaitingInput = true
	s.saveLocked(ctx, a)
	a.Mu.Unlock()
}
