package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
)

// User is an authenticated account.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Category groups subscriptions. Default categories have no owner.
type Category struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is one recurring charge.
type Subscription struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        currency.Code   `json:"currency"`
	BillingCycle    billing.Cycle   `json:"billing_cycle"`
	StartDate       time.Time       `json:"start_date"`
	NextBillingDate time.Time       `json:"next_billing_date"`
	CategoryID      *string         `json:"category_id,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// CategoryName is filled by list queries; it is not stored.
	CategoryName string `json:"category_name,omitempty"`
}

// WebhookEvent is the audit record of a received payment event.
type WebhookEvent struct {
	ID            string    `json:"id"`
	StripeEventID string    `json:"stripe_event_id"`
	Type          string    `json:"type"`
	UserID        string    `json:"user_id,omitempty"`
	Outcome       string    `json:"outcome"`
	Payload       []byte    `json:"-"`
	ReceivedAt    time.Time `json:"received_at"`
}

// DefaultCategories are seeded for every installation.
var DefaultCategories = []Category{
	{ID: "default-entertainment", Name: "Entertainment", IsDefault: true},
	{ID: "default-productivity", Name: "Productivity", IsDefault: true},
	{ID: "default-utilities", Name: "Utilities", IsDefault: true},
	{ID: "default-health", Name: "Health & Fitness", IsDefault: true},
	{ID: "default-education", Name: "Education", IsDefault: true},
	{ID: "default-news", Name: "News & Media", IsDefault: true},
	{ID: "default-cloud", Name: "Cloud & Software", IsDefault: true},
}
