package tier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/subscription"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/ports"
)

const freeTier = "free"

// StripeAuthority resolves a caller's plan from their active Stripe
// subscription. Billing stays entirely on Stripe's side; this adapter only
// reads the tier name and maps it to a question quota.
type StripeAuthority struct {
	users        ports.UserRepository
	quotas       map[string]int
	defaultQuota int
	log          *zap.Logger
}

func NewStripeAuthority(apiKey string, users ports.UserRepository, quotas map[string]int, defaultQuota int, log *zap.Logger) *StripeAuthority {
	stripe.Key = apiKey
	if defaultQuota <= 0 {
		defaultQuota = 5
	}
	return &StripeAuthority{
		users:        users,
		quotas:       quotas,
		defaultQuota: defaultQuota,
		log:          log,
	}
}

func (s *StripeAuthority) ResolveTier(ctx context.Context, callerID string) (*domain.Tier, error) {
	user, err := s.users.FindByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.StripeCustomerID == "" {
		// Guests and unsubscribed accounts share the free allowance.
		return s.tier(freeTier), nil
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(user.StripeCustomerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	iter := subscription.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		for _, item := range sub.Items.Data {
			if item.Price == nil || item.Price.Nickname == "" {
				continue
			}
			name := strings.ToLower(item.Price.Nickname)
			s.log.Info("Resolved subscription tier",
				zap.String("caller_id", callerID),
				zap.String("tier", name))
			return s.tier(name), nil
		}
	}
	if err := iter.Err(); err != nil {
		s.log.Error("Failed to list subscriptions",
			zap.String("caller_id", callerID),
			zap.Error(err))
		return nil, err
	}
	return s.tier(freeTier), nil
}

func (s *StripeAuthority) tier(name string) *domain.Tier {
	quota, ok := s.quotas[name]
	if !ok {
		quota = s.defaultQuota
	}
	return &domain.Tier{Name: name, QuestionQuota: quota}
}
