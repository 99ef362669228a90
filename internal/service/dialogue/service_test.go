package dialogue

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/mocks"
	"github.com/seu-repo/siga-mi/internal/service/followup"
	"github.com/seu-repo/siga-mi/internal/service/translation"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

type testEnv struct {
	svc        *Service
	store      *mocks.MockSessionStore
	answering  *mocks.MockAnsweringClient
	avatar     *mocks.MockAvatarClient
	reports    *mocks.MockReportRenderer
	tiers      *mocks.MockTierAuthority
	escalation *mocks.MockEscalationService
	sink       *mocks.MockEventSink
	mq         *mocks.MockMessageQueue
}

func newTestEnv() *testEnv {
	log := newTestLogger()
	env := &testEnv{
		store:      mocks.NewMockSessionStore(),
		answering:  &mocks.MockAnsweringClient{},
		avatar:     &mocks.MockAvatarClient{},
		reports:    &mocks.MockReportRenderer{},
		tiers:      &mocks.MockTierAuthority{},
		escalation: &mocks.MockEscalationService{},
		sink:       mocks.NewMockEventSink(),
		mq:         mocks.NewMockMessageQueue(),
	}
	translator := translation.NewService(mocks.NewMockTranslationStore(), log)
	env.svc = NewService(
		env.store,
		env.answering,
		env.avatar,
		env.reports,
		env.tiers,
		env.escalation,
		translator,
		env.sink,
		env.mq,
		Config{
			IdleDuration:  time.Minute,
			WarningWindow: time.Second,
			AskTimeout:    time.Second,
			DefaultQuota:  5,
		},
		log,
	)
	return env
}

func (env *testEnv) dispatch(t *testing.T, callerID string, typ domain.InputType, value string) {
	t.Helper()
	if err := env.svc.Dispatch(context.Background(), callerID, domain.Input{Type: typ, Value: value}); err != nil {
		t.Fatalf("dispatch %q: %v", value, err)
	}
}

func (env *testEnv) session(t *testing.T, callerID string) *domain.Session {
	t.Helper()
	a, ok := env.svc.sessions.Lookup(callerID)
	if !ok {
		t.Fatalf("no active session for %s", callerID)
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()
	copied := *a.S
	copied.Transcript = append([]domain.Message(nil), a.S.Transcript...)
	return &copied
}

// walkToFreeForm completes intake and enters free-form QA. The seed question
// is answered with seedAnswer.
func (env *testEnv) walkToFreeForm(t *testing.T, callerID, seedAnswer string) {
	t.Helper()
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return mocks.PlainAnswer(seedAnswer), nil
	}
	if _, err := env.svc.StartSession(context.Background(), callerID, "en", true); err != nil {
		t.Fatalf("start session: %v", err)
	}
	env.dispatch(t, callerID, domain.InputChoice, "usa")
	env.dispatch(t, callerID, domain.InputChoice, "brazil")
	env.dispatch(t, callerID, domain.InputChoice, domain.GoalWork)
	env.dispatch(t, callerID, domain.InputChoice, "free_form")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func TestStartSession_WelcomeRunsOnce(t *testing.T) {
	// Arrange
	env := newTestEnv()

	// Act: double invocation must not repeat the welcome
	env.svc.StartSession(context.Background(), "caller-1", "en", true)
	env.svc.StartSession(context.Background(), "caller-1", "en", true)

	// Assert
	s := env.session(t, "caller-1")
	if len(s.Transcript) != 2 {
		t.Fatalf("expected greeting + destination prompt, got %d messages", len(s.Transcript))
	}
	if s.Transcript[0].Text != "welcome.greeting" {
		t.Errorf("unexpected greeting %q", s.Transcript[0].Text)
	}
	if s.Transcript[1].Interactive != domain.InteractiveSelect {
		t.Errorf("destination prompt should be a selector")
	}
	if s.State != domain.StateDestinationSelect {
		t.Errorf("unexpected state %s", s.State)
	}
}

func TestIntakeWalk_ReachesFreeFormWithSeedQuestion(t *testing.T) {
	// Arrange
	env := newTestEnv()

	// Act
	env.walkToFreeForm(t, "caller-1", "Work visas require a sponsor.")

	// Assert
	s := env.session(t, "caller-1")
	if s.State != domain.StateFreeFormQA {
		t.Fatalf("expected free-form state, got %s", s.State)
	}
	if s.Profile["destination"] != "usa" || s.Profile["origin"] != "brazil" || s.Profile["goal"] != "work" {
		t.Errorf("unexpected profile %v", s.Profile)
	}

	asked := env.answering.AskedQuestions()
	if len(asked) != 1 {
		t.Fatalf("expected one seed question, got %d", len(asked))
	}
	seed := asked[0]
	for _, part := range []string{"brazil", "usa", "work"} {
		if !strings.Contains(seed, part) {
			t.Errorf("seed question %q missing %q", seed, part)
		}
	}
	if s.Quota.Used != 1 {
		t.Errorf("seed question should spend quota, used=%d", s.Quota.Used)
	}
	if !s.AwaitingInput {
		t.Error("turn should have re-opened the input gate")
	}
}

func TestFreeForm_AnswerSplitIntoCleanAndFollowUp(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return mocks.PlainAnswer("You need an I-130 form. What is your relationship to the sponsor?"), nil
	}

	// Act
	env.dispatch(t, "caller-1", domain.InputText, "How do I sponsor my spouse?")

	// Assert: clean answer strictly before its follow-up
	s := env.session(t, "caller-1")
	n := len(s.Transcript)
	clean, followUp := s.Transcript[n-2], s.Transcript[n-1]
	if clean.Text != "You need an I-130 form." {
		t.Errorf("unexpected clean answer %q", clean.Text)
	}
	if followUp.Text != "What is your relationship to the sponsor?" {
		t.Errorf("unexpected follow-up %q", followUp.Text)
	}
	if followUp.Interactive != domain.InteractiveTextInput {
		t.Errorf("follow-up should invite free text")
	}
}

func TestFreeForm_NoQuestionGetsDefaultFollowUp(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return mocks.PlainAnswer("Processing takes 6 months."), nil
	}

	// Act
	env.dispatch(t, "caller-1", domain.InputText, "How long does it take?")

	// Assert
	s := env.session(t, "caller-1")
	last := s.Transcript[len(s.Transcript)-1]
	if last.Text != followup.DefaultQuestion {
		t.Errorf("expected default follow-up, got %q", last.Text)
	}
}

func TestFreeForm_QuotaExhaustedMidTurnStillAnswers(t *testing.T) {
	// Arrange: a two-question allowance; the seed spends the first
	env := newTestEnv()
	env.tiers.ResolveTierFunc = func(ctx context.Context, callerID string) (*domain.Tier, error) {
		return &domain.Tier{Name: "free", QuestionQuota: 2}, nil
	}
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return mocks.PlainAnswer("Final answer."), nil
	}

	// Act: the question that spends the last allowance
	env.dispatch(t, "caller-1", domain.InputText, "Last question?")

	// Assert: answered, then the upgrade-or-report choice
	s := env.session(t, "caller-1")
	if s.State != domain.StateQuotaExhausted {
		t.Fatalf("expected quota exhausted state, got %s", s.State)
	}
	var sawAnswer, sawChoice bool
	for _, m := range s.Transcript {
		if m.Text == "Final answer." {
			sawAnswer = true
		}
		if m.Text == "quota.exhausted" && len(m.Choices) == 2 {
			sawChoice = true
		}
	}
	if !sawAnswer {
		t.Error("the last allowed question must still be answered")
	}
	if !sawChoice {
		t.Error("expected the upgrade-or-report choice")
	}

	// Further free text is not forwarded anymore.
	before := len(env.answering.AskedQuestions())
	env.dispatch(t, "caller-1", domain.InputText, "one more?")
	if len(env.answering.AskedQuestions()) != before {
		t.Error("no question may be forwarded after exhaustion")
	}
}

func TestFreeForm_QuotaCrossingLeavesSingleInteractive(t *testing.T) {
	// Arrange: a two-question allowance; the seed spends the first
	env := newTestEnv()
	env.tiers.ResolveTierFunc = func(ctx context.Context, callerID string) (*domain.Tier, error) {
		return &domain.Tier{Name: "free", QuestionQuota: 2}, nil
	}
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return mocks.PlainAnswer("Final answer. What else should we cover?"), nil
	}

	// Act: the question that spends the last allowance
	env.dispatch(t, "caller-1", domain.InputText, "Last question?")

	// Assert: the follow-up is plain text; the choice buttons are the only
	// un-actioned interactive message
	s := env.session(t, "caller-1")
	pending := s.PendingInteractive()
	if pending == nil {
		t.Fatal("expected a pending interactive message")
	}
	if pending.Interactive != domain.InteractiveButtons {
		t.Errorf("expected the choice buttons pending, got %s", pending.Interactive)
	}
	interactive := 0
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		m := s.Transcript[i]
		if m.Author == domain.AuthorUser {
			break
		}
		if m.Interactive != domain.InteractiveNone {
			interactive++
		}
	}
	if interactive != 1 {
		t.Errorf("expected exactly one un-actioned interactive message, got %d", interactive)
	}
	var sawFollowUp bool
	for _, m := range s.Transcript {
		if m.Text == "What else should we cover?" && m.Interactive == domain.InteractiveNone {
			sawFollowUp = true
		}
	}
	if !sawFollowUp {
		t.Error("the follow-up must still appear, as plain text")
	}
}

func TestOnAvatarEvent_ReadyWithoutSessionReachesAllSessions(t *testing.T) {
	// Arrange: two sessions start while the subsystem is down, so each
	// welcome utterance sits buffered in its coordinator
	env := newTestEnv()
	env.svc.StartSession(context.Background(), "caller-1", "en", true)
	env.svc.StartSession(context.Background(), "caller-2", "en", true)

	// Act: the subsystem reports readiness for the connection as a whole
	env.svc.OnAvatarEvent(domain.AvatarEvent{Type: domain.AvatarReady})

	// Assert: both buffered utterances replay, each attributed to its caller
	waitFor(t, func() bool { return len(env.avatar.Spoken()) == 2 }, "buffered welcomes replayed")
	seen := map[string]bool{}
	for _, session := range env.avatar.SpokenSessions() {
		seen[session] = true
	}
	if !seen["caller-1"] || !seen["caller-2"] {
		t.Errorf("expected utterances attributed per caller, got %v", env.avatar.SpokenSessions())
	}
}

func TestOnAvatarEvent_SpeechDoneRoutesBySession(t *testing.T) {
	// Arrange: a ready subsystem with one utterance in flight
	env := newTestEnv()
	env.svc.StartSession(context.Background(), "caller-1", "en", true)
	env.svc.OnAvatarEvent(domain.AvatarEvent{Type: domain.AvatarReady})
	waitFor(t, func() bool { return len(env.avatar.Spoken()) == 1 }, "welcome spoken")

	// Act: completion attributed to the owning session
	env.svc.OnAvatarEvent(domain.AvatarEvent{Type: domain.AvatarSpeechDone, Session: "caller-1"})
	env.dispatch(t, "caller-1", domain.InputChoice, "usa")

	// Assert: the next utterance needs no pre-emption
	waitFor(t, func() bool { return len(env.avatar.Spoken()) == 2 }, "next utterance sent")
	if env.avatar.Interrupts() != 0 {
		t.Errorf("completed utterance must not be interrupted, got %d interrupts", env.avatar.Interrupts())
	}
}

func TestFreeForm_TransientErrorOffersRetry(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	failing := true
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		if failing {
			return nil, fmt.Errorf("%w: connection refused", domain.ErrTransientNetwork)
		}
		return mocks.PlainAnswer("It worked this time."), nil
	}

	// Act
	env.dispatch(t, "caller-1", domain.InputText, "Do I need a visa?")

	// Assert: recovery prompt with retry and escalate, profile intact
	s := env.session(t, "caller-1")
	last := s.Transcript[len(s.Transcript)-1]
	if last.Text != "error.transient" || len(last.Choices) != 2 {
		t.Fatalf("expected transient recovery prompt, got %q with %d choices", last.Text, len(last.Choices))
	}
	if s.State != domain.StateFreeFormQA {
		t.Errorf("recovery must not leave free-form, got %s", s.State)
	}
	if s.Profile["destination"] != "usa" {
		t.Error("profile must survive the failure")
	}

	// Retry re-asks the same question.
	failing = false
	env.dispatch(t, "caller-1", domain.InputChoice, "retry")
	asked := env.answering.AskedQuestions()
	if asked[len(asked)-1] != "Do I need a visa?" {
		t.Errorf("retry should re-ask the failed question, asked %q", asked[len(asked)-1])
	}
	s = env.session(t, "caller-1")
	if s.Transcript[len(s.Transcript)-2].Text != "It worked this time." {
		t.Error("expected the retried answer in the transcript")
	}
}

func TestFreeForm_AuthRequiredOffersLogin(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("%w: status 401", domain.ErrAuthRequired)
	}

	// Act
	env.dispatch(t, "caller-1", domain.InputText, "Do I need a visa?")

	// Assert
	s := env.session(t, "caller-1")
	last := s.Transcript[len(s.Transcript)-1]
	if last.Text != "error.auth_required" {
		t.Fatalf("expected auth recovery prompt, got %q", last.Text)
	}
	values := []string{last.Choices[0].Value, last.Choices[1].Value}
	if values[0] != "login" || values[1] != "signup" {
		t.Errorf("expected login/signup choices, got %v", values)
	}
}

func TestFreeForm_EmptyResponseTreatedAsTransient(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return mocks.PlainAnswer(""), nil
	}

	// Act
	env.dispatch(t, "caller-1", domain.InputText, "Do I need a visa?")

	// Assert
	s := env.session(t, "caller-1")
	last := s.Transcript[len(s.Transcript)-1]
	if last.Text != "error.transient" {
		t.Errorf("empty responses share the retry path, got %q", last.Text)
	}
}

func TestDispatch_DuplicateWhileSuspendedDropped(t *testing.T) {
	// Arrange: intake up to mode select, then a suspended seed turn
	env := newTestEnv()
	env.svc.StartSession(context.Background(), "caller-1", "en", true)
	env.dispatch(t, "caller-1", domain.InputChoice, "usa")
	env.dispatch(t, "caller-1", domain.InputChoice, "brazil")
	env.dispatch(t, "caller-1", domain.InputChoice, domain.GoalWork)

	started := make(chan struct{})
	release := make(chan struct{})
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		close(started)
		<-release
		return mocks.PlainAnswer("All done."), nil
	}

	// Act: first dispatch suspends on the network call
	go env.svc.Dispatch(context.Background(), "caller-1", domain.Input{Type: domain.InputChoice, Value: "free_form"})
	<-started

	// The duplicate fires while the turn is in flight.
	env.dispatch(t, "caller-1", domain.InputChoice, "free_form")
	close(release)

	waitFor(t, func() bool { return env.session(t, "caller-1").AwaitingInput }, "turn finished")

	// Assert: exactly one transition, one seed question
	if got := len(env.answering.AskedQuestions()); got != 1 {
		t.Errorf("expected one forwarded question, got %d", got)
	}
	s := env.session(t, "caller-1")
	count := 0
	for _, m := range s.Transcript {
		if m.Author == domain.AuthorUser && m.Text == "free_form" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate dispatch must be dropped, saw %d mode selections", count)
	}
}

func TestSessionReset_StaleAnswerDiscarded(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")

	started := make(chan struct{})
	release := make(chan struct{})
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		close(started)
		<-release
		return mocks.PlainAnswer("Stale answer from the old identity."), nil
	}

	done := make(chan struct{})
	go func() {
		env.svc.Dispatch(context.Background(), "caller-1", domain.Input{Type: domain.InputText, Value: "Pending?"})
		close(done)
	}()
	<-started

	// Act: identity change mid-flight, then a fresh session
	if err := env.svc.ResetSession(context.Background(), "caller-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	env.answering.AskFunc = nil
	env.svc.StartSession(context.Background(), "caller-1", "en", false)
	close(release)
	<-done

	// Assert: the stale completion never reached the new transcript
	s := env.session(t, "caller-1")
	for _, m := range s.Transcript {
		if m.Text == "Stale answer from the old identity." {
			t.Fatal("stale answer mutated the new session's transcript")
		}
	}
	if len(s.Transcript) != 2 {
		t.Errorf("expected only the fresh welcome, got %d messages", len(s.Transcript))
	}
}

func TestReportFlow_CompletesAndGeneratesDocument(t *testing.T) {
	// Arrange: intake, then the structured report branch
	env := newTestEnv()
	env.svc.StartSession(context.Background(), "caller-1", "en", true)
	env.dispatch(t, "caller-1", domain.InputChoice, "usa")
	env.dispatch(t, "caller-1", domain.InputChoice, "brazil")
	env.dispatch(t, "caller-1", domain.InputChoice, domain.GoalWork)
	env.dispatch(t, "caller-1", domain.InputChoice, "report")

	if env.session(t, "caller-1").State != domain.StateStructuredReportQA {
		t.Fatal("expected structured report state")
	}

	// Act: answer all five questions
	answers := []string{"yes", "3-5", "master", "advanced", "6_months"}
	for _, answer := range answers {
		env.dispatch(t, "caller-1", domain.InputChoice, answer)
	}

	// Assert
	s := env.session(t, "caller-1")
	if s.State != domain.StateTerminal {
		t.Fatalf("expected terminal state, got %s", s.State)
	}
	reqs := env.reports.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one report request, got %d", len(reqs))
	}
	if len(reqs[0].Answers) != len(answers) {
		t.Errorf("expected %d answers, got %d", len(answers), len(reqs[0].Answers))
	}
	if reqs[0].Profile["goal"] != "work" {
		t.Errorf("report request must carry the profile, got %v", reqs[0].Profile)
	}
	if len(env.mq.GetPublishedMessages(SubjectReportRequested)) != 1 {
		t.Error("expected the report request published on the queue")
	}
	last := s.Transcript[len(s.Transcript)-1]
	if last.Text != "report.ready" {
		t.Errorf("expected the ready message, got %q", last.Text)
	}
}

func TestQuotaExhausted_ReportChoiceEntersReportFlow(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.tiers.ResolveTierFunc = func(ctx context.Context, callerID string) (*domain.Tier, error) {
		return &domain.Tier{Name: "free", QuestionQuota: 1}, nil
	}
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")

	if env.session(t, "caller-1").State != domain.StateQuotaExhausted {
		t.Fatal("the seed question should have exhausted the single-question quota")
	}

	// Act
	env.dispatch(t, "caller-1", domain.InputChoice, "report")

	// Assert
	if env.session(t, "caller-1").State != domain.StateStructuredReportQA {
		t.Errorf("expected report flow, got %s", env.session(t, "caller-1").State)
	}
}

func TestEscalationChoice_NotifiesHumanChannel(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	env.answering.AskFunc = func(ctx context.Context, q string, profile map[string]string, lang string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("%w: timeout", domain.ErrTransientNetwork)
	}
	env.dispatch(t, "caller-1", domain.InputText, "Help?")

	// Act
	env.dispatch(t, "caller-1", domain.InputChoice, "escalate")

	// Assert
	if env.escalation.Escalations() != 1 {
		t.Errorf("expected one escalation, got %d", env.escalation.Escalations())
	}
	if len(env.mq.GetPublishedMessages(SubjectEscalationRequested)) != 1 {
		t.Error("expected the escalation published on the queue")
	}
	s := env.session(t, "caller-1")
	if s.Transcript[len(s.Transcript)-1].Text != "escalation.confirmed" {
		t.Error("expected the escalation confirmation message")
	}
	if !s.AwaitingInput {
		t.Error("session must stay resumable after escalation")
	}
}

func TestSwitchLanguage_KeepsTranscript(t *testing.T) {
	// Arrange
	env := newTestEnv()
	env.walkToFreeForm(t, "caller-1", "Welcome aboard.")
	before := len(env.session(t, "caller-1").Transcript)

	// Act
	if err := env.svc.SwitchLanguage(context.Background(), "caller-1", "pt"); err != nil {
		t.Fatalf("switch language: %v", err)
	}

	// Assert
	s := env.session(t, "caller-1")
	if s.Language != "pt" {
		t.Errorf("expected language pt, got %s", s.Language)
	}
	if len(s.Transcript) != before {
		t.Error("language switch must not clear the transcript")
	}
}

func TestDispatch_UnknownSessionRejected(t *testing.T) {
	// Arrange
	env := newTestEnv()

	// Act
	err := env.svc.Dispatch(context.Background(), "ghost", domain.Input{Type: domain.InputText, Value: "hi"})

	// Assert
	if err != domain.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
