package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcourtman/subtracker/pkg/entitlement"
)

// Notifier turns entitlement events into emails.
type Notifier struct {
	sender       Sender
	from         string
	dashboardURL string
}

// NewNotifier creates a Notifier sending from the given address.
func NewNotifier(sender Sender, from, dashboardURL string) *Notifier {
	return &Notifier{sender: sender, from: from, dashboardURL: strings.TrimRight(dashboardURL, "/")}
}

// TrialStarted sends the trial welcome email.
func (n *Notifier) TrialStarted(ctx context.Context, to string, access entitlement.UserAccess) error {
	if access.TrialEndDate == nil {
		return fmt.Errorf("trial record for %s has no end date", access.UserID)
	}
	html, text, err := RenderTrialStartedEmail(TrialStartedData{
		EndsAt:       *access.TrialEndDate,
		DashboardURL: n.dashboardURL,
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		From:    n.from,
		To:      to,
		Subject: "Your Subtracker trial has started",
		HTML:    html,
		Text:    text,
		Tag:     "trial-started",
	})
}

// PremiumActivated sends the premium confirmation email.
func (n *Notifier) PremiumActivated(ctx context.Context, to string, access entitlement.UserAccess) error {
	if access.SubscriptionEndDate == nil {
		return fmt.Errorf("premium record for %s has no end date", access.UserID)
	}
	html, text, err := RenderPremiumActivatedEmail(PremiumActivatedData{
		RenewsAt:     *access.SubscriptionEndDate,
		DashboardURL: n.dashboardURL,
	})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		From:    n.from,
		To:      to,
		Subject: "Subtracker Premium is active",
		HTML:    html,
		Text:    text,
		Tag:     "premium-activated",
	})
}
