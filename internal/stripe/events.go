package stripe

import (
	"strings"
)

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Customer          string `json:"customer"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentStatus     string `json:"payment_status"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// UserID returns the subtracker user the session was opened for.
func (s CheckoutSession) UserID() string {
	if id := metadataUserID(s.Metadata); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

// Paid reports whether the session settled. Delayed payment methods complete
// the session with payment_status "unpaid".
func (s CheckoutSession) Paid() bool {
	switch s.PaymentStatus {
	case "paid", "no_payment_required", "":
		return true
	default:
		return false
	}
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID                  string            `json:"id"`
	Customer            string            `json:"customer"`
	Status              string            `json:"status"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent struct {
		SubscriptionDetails struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// UserID returns the user id carried on the invoice or its subscription.
func (i Invoice) UserID() string {
	for _, md := range []map[string]string{i.Metadata, i.SubscriptionDetails.Metadata, i.Parent.SubscriptionDetails.Metadata} {
		if id := metadataUserID(md); id != "" {
			return id
		}
	}
	return ""
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
}

// UserID returns the user id from the subscription metadata.
func (s Subscription) UserID() string {
	return metadataUserID(s.Metadata)
}

// GrantsPremium reports whether a subscription status entitles the user to
// premium features.
func GrantsPremium(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	default:
		return false
	}
}

// EndsPremium reports whether a subscription status means the subscription is
// over. Statuses in between, such as past_due, leave the record unchanged.
func EndsPremium(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "unpaid", "incomplete_expired":
		return true
	default:
		return false
	}
}

func metadataUserID(md map[string]string) string {
	if md == nil {
		return ""
	}
	return strings.TrimSpace(md["user_id"])
}
