// Package entitlement derives feature access from a user's stored access
// record.
package entitlement

import (
	"strings"
	"time"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

const (
	// TrialDuration is the trial window granted to new accounts.
	TrialDuration = 7 * 24 * time.Hour
	// PremiumTermYears is the subscription period set by a payment event.
	PremiumTermYears = 1
)

// UserType records whether an account predates the trial program.
type UserType string

const (
	UserTypeExisting UserType = "existing"
	UserTypeNew      UserType = "new"
)

// Status is the stored subscription status.
type Status string

const (
	StatusFree    Status = "free"
	StatusTrial   Status = "trial"
	StatusPremium Status = "premium"
)

func (s Status) valid() bool {
	switch s {
	case StatusFree, StatusTrial, StatusPremium:
		return true
	default:
		return false
	}
}

// UserAccess is the entitlement record for one user.
type UserAccess struct {
	UserID                string     `json:"user_id"`
	UserType              UserType   `json:"user_type"`
	HasLifetimeAccess     bool       `json:"has_lifetime_access"`
	SubscriptionStatus    Status     `json:"subscription_status"`
	TrialStartDate        *time.Time `json:"trial_start_date,omitempty"`
	TrialEndDate          *time.Time `json:"trial_end_date,omitempty"`
	SubscriptionStartDate *time.Time `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of a.
func (a UserAccess) Clone() UserAccess {
	out := a
	out.TrialStartDate = cloneTime(a.TrialStartDate)
	out.TrialEndDate = cloneTime(a.TrialEndDate)
	out.SubscriptionStartDate = cloneTime(a.SubscriptionStartDate)
	out.SubscriptionEndDate = cloneTime(a.SubscriptionEndDate)
	return out
}

// NewExistingAccess builds the record for a grandfathered account.
func NewExistingAccess(userID string, now time.Time) UserAccess {
	now = now.UTC()
	return UserAccess{
		UserID:             userID,
		UserType:           UserTypeExisting,
		HasLifetimeAccess:  true,
		SubscriptionStatus: StatusFree,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NewTrialAccess builds the record for a new account with a trial starting
// at now.
func NewTrialAccess(userID string, now time.Time) UserAccess {
	now = now.UTC()
	end := now.Add(TrialDuration)
	return UserAccess{
		UserID:             userID,
		UserType:           UserTypeNew,
		SubscriptionStatus: StatusTrial,
		TrialStartDate:     &now,
		TrialEndDate:       &end,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Validate checks the record invariants.
func Validate(a UserAccess) error {
	if strings.TrimSpace(a.UserID) == "" {
		return apperrors.Invalid("user_id", "user id is required")
	}
	if !a.SubscriptionStatus.valid() {
		return apperrors.Invalid("subscription_status", "unknown status %q", a.SubscriptionStatus)
	}

	switch a.UserType {
	case UserTypeExisting:
		if !a.HasLifetimeAccess {
			return apperrors.Invalid("has_lifetime_access", "existing accounts must have lifetime access")
		}
		if a.TrialStartDate != nil || a.TrialEndDate != nil {
			return apperrors.Invalid("trial_start_date", "existing accounts have no trial")
		}
	case UserTypeNew:
		if a.HasLifetimeAccess {
			return apperrors.Invalid("has_lifetime_access", "new accounts cannot have lifetime access")
		}
	default:
		return apperrors.Invalid("user_type", "unknown user type %q", a.UserType)
	}

	if a.SubscriptionStatus == StatusTrial {
		if a.TrialStartDate == nil || a.TrialEndDate == nil {
			return apperrors.Invalid("trial_end_date", "trial status requires trial dates")
		}
		if a.TrialEndDate.Before(*a.TrialStartDate) {
			return apperrors.Invalid("trial_end_date", "trial ends before it starts")
		}
	}
	if a.SubscriptionStartDate != nil && a.SubscriptionEndDate != nil && a.SubscriptionEndDate.Before(*a.SubscriptionStartDate) {
		return apperrors.Invalid("subscription_end_date", "subscription ends before it starts")
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
