package entitlement

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrLifetimeTerminal is returned when a transition targets a lifetime
// account.
var ErrLifetimeTerminal = errors.New("lifetime access is terminal")

// ErrInvalidTransition is returned for status changes not in the table.
var ErrInvalidTransition = errors.New("invalid status transition")

// Transition is a stored status change.
type Transition struct {
	From Status
	To   Status
}

var validTransitions = map[Transition]bool{
	{StatusFree, StatusPremium}:    true, // Upgrade without trial
	{StatusTrial, StatusPremium}:   true, // Trial converted
	{StatusPremium, StatusPremium}: true, // Renewal extends the term
	{StatusPremium, StatusFree}:    true, // Cancellation
	{StatusTrial, StatusFree}:      true, // Cancelled during trial
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom lists allowed targets from a status.
func ValidTransitionsFrom(from Status) []Status {
	targets := make([]Status, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}

// ApplyPremium returns a copy of a upgraded to premium for one term
// starting at now. Trial dates are cleared.
func ApplyPremium(a UserAccess, now time.Time) (UserAccess, error) {
	if err := checkTransition(a, StatusPremium); err != nil {
		return a, err
	}
	now = now.UTC()
	end := now.AddDate(PremiumTermYears, 0, 0)

	out := a.Clone()
	out.SubscriptionStatus = StatusPremium
	out.SubscriptionStartDate = &now
	out.SubscriptionEndDate = &end
	out.TrialStartDate = nil
	out.TrialEndDate = nil
	out.UpdatedAt = now
	return out, nil
}

// ApplyCancellation returns a copy of a downgraded to free. The
// subscription end date is set to now if it lies in the future.
func ApplyCancellation(a UserAccess, now time.Time) (UserAccess, error) {
	if a.SubscriptionStatus == StatusFree && !a.HasLifetimeAccess {
		return a.Clone(), nil
	}
	if err := checkTransition(a, StatusFree); err != nil {
		return a, err
	}
	now = now.UTC()

	out := a.Clone()
	out.SubscriptionStatus = StatusFree
	out.TrialStartDate = nil
	out.TrialEndDate = nil
	if out.SubscriptionEndDate == nil || out.SubscriptionEndDate.After(now) {
		out.SubscriptionEndDate = &now
	}
	out.UpdatedAt = now
	return out, nil
}

func checkTransition(a UserAccess, to Status) error {
	if a.HasLifetimeAccess {
		return ErrLifetimeTerminal
	}
	if !CanTransition(a.SubscriptionStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.SubscriptionStatus, to)
	}
	return nil
}
