package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/infrastructure/circuitbreaker"
)

// recentMessages caps how much transcript context goes into the email.
const recentMessages = 10

// Service notifies the human support channel when a caller asks for help a
// machine could not give. Delivery goes through SendGrid.
type Service struct {
	client    *sendgrid.Client
	calls     *circuitbreaker.ServiceClient
	fromEmail string
	fromName  string
	toEmail   string
	log       *zap.Logger
}

func NewService(apiKey, fromEmail, fromName, toEmail string, calls *circuitbreaker.ServiceClient, log *zap.Logger) *Service {
	return &Service{
		client:    sendgrid.NewSendClient(apiKey),
		calls:     calls,
		fromEmail: fromEmail,
		fromName:  fromName,
		toEmail:   toEmail,
		log:       log,
	}
}

func (s *Service) Escalate(ctx context.Context, session *domain.Session, reason string) error {
	subject := fmt.Sprintf("[SIGA-MI] Escalation for session %s", session.ID)
	body := s.buildBody(session, reason)

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", s.toEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	err := s.calls.Call(ctx, "sendgrid", func(ctx context.Context) error {
		response, err := s.client.SendWithContext(ctx, message)
		if err != nil {
			return fmt.Errorf("sendgrid error: %w", err)
		}
		if response.StatusCode >= 300 {
			return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("Escalation email sent",
		zap.String("session_id", session.ID),
		zap.String("reason", reason))
	return nil
}

func (s *Service) buildBody(session *domain.Session, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "Caller: %s (guest=%v)\n", session.CallerID, session.Guest)
	fmt.Fprintf(&b, "State: %s, language: %s\n\n", session.State, session.Language)

	if len(session.Profile) > 0 {
		b.WriteString("Profile:\n")
		for key, value := range session.Profile {
			fmt.Fprintf(&b, "  %s: %s\n", key, value)
		}
		b.WriteString("\n")
	}

	transcript := session.Transcript
	if len(transcript) > recentMessages {
		transcript = transcript[len(transcript)-recentMessages:]
	}
	b.WriteString("Recent messages:\n")
	for _, m := range transcript {
		fmt.Fprintf(&b, "  [%s] %s\n", m.Author, m.Text)
	}
	return b.String()
}
