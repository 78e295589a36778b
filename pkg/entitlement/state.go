package entitlement

import (
	"math"
	"time"
)

// State is the effective access state derived from a record and the clock.
type State string

const (
	StateLifetime     State = "lifetime"
	StatePremium      State = "premium"
	StateTrial        State = "trial"
	StateTrialExpired State = "trial_expired"
	StateFree         State = "free"
)

// StateBehavior describes what a user in a given state may see.
type StateBehavior struct {
	State State

	// AnalyticsAccess indicates whether premium analytics are available.
	AnalyticsAccess bool

	// ShowPricing indicates whether the upsell should be shown.
	ShowPricing bool

	// Terminal states accept no further stored transitions.
	Terminal bool

	Description string
}

// StateBehaviors maps each derived state to its behavior rules.
var StateBehaviors = map[State]StateBehavior{
	StateLifetime: {
		State:           StateLifetime,
		AnalyticsAccess: true,
		ShowPricing:     false,
		Terminal:        true,
		Description:     "Permanent grant; status and trial dates are ignored.",
	},
	StatePremium: {
		State:           StatePremium,
		AnalyticsAccess: true,
		ShowPricing:     false,
		Description:     "Paid subscription; ends only on cancellation.",
	},
	StateTrial: {
		State:           StateTrial,
		AnalyticsAccess: true,
		ShowPricing:     true,
		Description:     "Full access until the trial end date.",
	},
	StateTrialExpired: {
		State:           StateTrialExpired,
		AnalyticsAccess: false,
		ShowPricing:     true,
		Description:     "Trial window passed; treated as free.",
	},
	StateFree: {
		State:           StateFree,
		AnalyticsAccess: false,
		ShowPricing:     true,
		Description:     "No paid features; upsell shown.",
	},
}

// GetBehavior returns the behavior rules for state. Unknown states behave
// as free.
func GetBehavior(state State) StateBehavior {
	if b, ok := StateBehaviors[state]; ok {
		return b
	}
	return StateBehaviors[StateFree]
}

// Derive computes the effective state of a at now. A nil record is free.
// The trial expiry transition is computed here and never stored.
func Derive(a *UserAccess, now time.Time) State {
	if a == nil {
		return StateFree
	}
	if a.HasLifetimeAccess {
		return StateLifetime
	}
	switch a.SubscriptionStatus {
	case StatusPremium:
		return StatePremium
	case StatusTrial:
		if a.TrialEndDate != nil && !now.After(*a.TrialEndDate) {
			return StateTrial
		}
		return StateTrialExpired
	default:
		return StateFree
	}
}

// HasAnalyticsAccess reports whether a may use premium analytics at now.
func HasAnalyticsAccess(a *UserAccess, now time.Time) bool {
	return GetBehavior(Derive(a, now)).AnalyticsAccess
}

// TrialInfo is the trial countdown for display.
type TrialInfo struct {
	IsInTrial bool       `json:"is_in_trial"`
	DaysLeft  int        `json:"days_left"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
}

// TrialStatus reports whether a is in an active trial and how many whole
// days remain, rounding partial days up. DaysLeft is 0 outside a trial.
func TrialStatus(a *UserAccess, now time.Time) TrialInfo {
	if Derive(a, now) != StateTrial {
		return TrialInfo{}
	}
	remaining := a.TrialEndDate.Sub(now)
	days := int(math.Ceil(remaining.Hours() / 24))
	if days < 0 {
		days = 0
	}
	return TrialInfo{IsInTrial: true, DaysLeft: days, EndsAt: cloneTime(a.TrialEndDate)}
}

// Summary is the entitlement view returned to clients.
type Summary struct {
	State           State       `json:"state"`
	AnalyticsAccess bool        `json:"analytics_access"`
	ShowPricing     bool        `json:"show_pricing"`
	Trial           TrialInfo   `json:"trial"`
	Access          *UserAccess `json:"access,omitempty"`
}

// Summarize derives the full client view for a at now.
func Summarize(a *UserAccess, now time.Time) Summary {
	state := Derive(a, now)
	b := GetBehavior(state)
	s := Summary{
		State:           state,
		AnalyticsAccess: b.AnalyticsAccess,
		ShowPricing:     b.ShowPricing,
		Trial:           TrialStatus(a, now),
	}
	if a != nil {
		c := a.Clone()
		s.Access = &c
	}
	return s
}
