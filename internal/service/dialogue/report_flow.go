package dialogue

import (
	"context"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/service/session"
)

// reportQuestion is one step of the structured report flow: a translation key
// and its enumerated option values. No free text in this flow.
type reportQuestion struct {
	Key     string
	Options []string
}

// reportQuestions holds the fixed, goal-keyed five-question lists driving the
// simple report. Option values feed the rendered roadmap/checklist directly.
var reportQuestions = map[string][]reportQuestion{
	domain.GoalWork: {
		{Key: "report.work.job_offer", Options: []string{"yes", "no", "searching"}},
		{Key: "report.work.experience", Options: []string{"0-2", "3-5", "6-10", "10+"}},
		{Key: "report.work.education", Options: []string{"high_school", "bachelor", "master", "phd"}},
		{Key: "report.work.language_level", Options: []string{"basic", "intermediate", "advanced", "native"}},
		{Key: "report.work.timeline", Options: []string{"3_months", "6_months", "1_year", "flexible"}},
	},
	domain.GoalStudy: {
		{Key: "report.study.program", Options: []string{"language_course", "undergraduate", "graduate", "doctorate"}},
		{Key: "report.study.admission", Options: []string{"accepted", "applying", "researching"}},
		{Key: "report.study.budget", Options: []string{"under_10k", "10k_30k", "30k_60k", "above_60k"}},
		{Key: "report.study.language_level", Options: []string{"basic", "intermediate", "advanced", "native"}},
		{Key: "report.study.start_term", Options: []string{"next_term", "6_months", "1_year", "flexible"}},
	},
	domain.GoalFamily: {
		{Key: "report.family.relationship", Options: []string{"spouse", "parent", "child", "sibling"}},
		{Key: "report.family.sponsor_status", Options: []string{"citizen", "permanent_resident", "visa_holder"}},
		{Key: "report.family.petition_filed", Options: []string{"yes", "no"}},
		{Key: "report.family.living_abroad", Options: []string{"under_1_year", "1-5_years", "over_5_years"}},
		{Key: "report.family.timeline", Options: []string{"asap", "1_year", "flexible"}},
	},
	domain.GoalVisit: {
		{Key: "report.visit.purpose", Options: []string{"tourism", "business", "medical", "event"}},
		{Key: "report.visit.duration", Options: []string{"under_2_weeks", "2-4_weeks", "1-3_months", "over_3_months"}},
		{Key: "report.visit.previous_visits", Options: []string{"yes", "no"}},
		{Key: "report.visit.ties_home", Options: []string{"job", "property", "family", "studies"}},
		{Key: "report.visit.travel_date", Options: []string{"1_month", "3_months", "6_months", "undecided"}},
	},
}

func (s *Service) reportQuestionList(a *session.Active) []reportQuestion {
	goal := a.S.Slot("goal")
	if qs, ok := reportQuestions[goal]; ok {
		return qs
	}
	return reportQuestions[domain.GoalVisit]
}

// promptReportQuestion asks the question at the session's current report
// step. Caller holds a.Mu.
func (s *Service) promptReportQuestion(ctx context.Context, a *session.Active) {
	questions := s.reportQuestionList(a)
	if a.S.ReportStep >= len(questions) {
		return
	}
	q := questions[a.S.ReportStep]

	choices := make([]domain.Choice, 0, len(q.Options))
	for _, opt := range q.Options {
		choices = append(choices, domain.Choice{
			Label: s.tr(ctx, a, q.Key+"."+opt, nil),
			Value: opt,
		})
	}
	prompt := s.tr(ctx, a, q.Key, nil)
	s.say(a, domain.NewPromptMessage(prompt, domain.InteractiveSelect, choices))
	s.speak(a, prompt)
}

func (s *Service) handleReport(ctx context.Context, a *session.Active, input domain.Input) error {
	a.Mu.Lock()
	questions := s.reportQuestionList(a)

	if a.S.ReportStep >= len(questions) {
		// All answered; the only inputs here are the retry/escalate choices
		// from a failed generation.
		if input.Value == "escalate" {
			a.Mu.Unlock()
			return s.handleRecoveryChoice(ctx, a, input)
		}
		return s.finishReportLocked(ctx, a)
	}

	q := questions[a.S.ReportStep]
	s.say(a, domain.NewUserMessage(input.Value))
	a.S.ReportAnswers = append(a.S.ReportAnswers, domain.ReportAnswer{
		Question: q.Key,
		Answer:   input.Value,
	})
	a.S.ReportStep++

	if a.S.ReportStep < len(questions) {
		s.promptReportQuestion(ctx, a)
		s.endTurnLocked(ctx, a)
		return nil
	}
	return s.finishReportLocked(ctx, a)
}

// finishReportLocked invokes the external report renderer and publishes the
// request for background processing. Takes ownership of a.Mu.
func (s *Service) finishReportLocked(ctx context.Context, a *session.Active) error {
	req := &domain.ReportRequest{
		SessionID: a.S.ID,
		Profile:   make(map[string]string, len(a.S.Profile)),
		Answers:   append([]domain.ReportAnswer(nil), a.S.ReportAnswers...),
		Language:  a.S.Language,
	}
	for k, v := range a.S.Profile {
		req.Profile[k] = v
	}
	gen := a.Generation()
	a.Mu.Unlock()

	telemetry.ReportsRequestedTotal.Inc()
	s.publish(SubjectReportRequested, req)

	handle, err := s.reports.Generate(ctx, req)

	a.Mu.Lock()
	if a.Stale(gen) {
		a.Mu.Unlock()
		return nil
	}
	defer s.endTurnLocked(ctx, a)

	if err != nil {
		s.log.Error("Report generation failed",
			zap.String("caller_id", a.S.CallerID),
			zap.Error(err))
		s.say(a, domain.NewPromptMessage(
			s.tr(ctx, a, "error.transient", nil),
			domain.InteractiveButtons,
			[]domain.Choice{
				{Label: s.tr(ctx, a, "choice.retry", nil), Value: "retry"},
				{Label: s.tr(ctx, a, "choice.escalate", nil), Value: "escalate"},
			},
		))
		return nil
	}

	ready := s.tr(ctx, a, "report.ready", map[string]string{"url": handle.URL})
	s.say(a, domain.NewAssistantMessage(ready))
	s.setState(a, domain.StateTerminal)
	s.sink.Push(a.S.CallerID, Event{Type: EventReportReady, Report: handle})
	s.speak(a, ready)
	return nil
}
