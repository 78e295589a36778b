// Package billing normalizes subscription prices across billing cycles.
package billing

import (
	"strings"
	"time"
)

// Cycle is the recurrence period of a subscription charge.
type Cycle string

const (
	Monthly   Cycle = "monthly"
	Quarterly Cycle = "quarterly"
	Yearly    Cycle = "yearly"
)

// ParseCycle maps raw to a known cycle. Anything unrecognised is Monthly.
func ParseCycle(raw string) Cycle {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "quarterly", "quarter":
		return Quarterly
	case "yearly", "annual", "annually", "year":
		return Yearly
	default:
		return Monthly
	}
}

// Known reports whether c is one of the defined cycles.
func (c Cycle) Known() bool {
	switch c {
	case Monthly, Quarterly, Yearly:
		return true
	default:
		return false
	}
}

// Months is the length of the cycle in calendar months.
func (c Cycle) Months() int {
	switch c {
	case Quarterly:
		return 3
	case Yearly:
		return 12
	default:
		return 1
	}
}

// PerYear is how many charges the cycle produces per year.
func (c Cycle) PerYear() int {
	return 12 / c.Months()
}

// Advance moves anchor forward by n cycles. A billing day past the end of
// the target month falls on that month's last day.
func (c Cycle) Advance(anchor time.Time, n int) time.Time {
	return AddMonths(anchor, c.Months()*n)
}

// AddMonths adds n calendar months to t, clamping the day to the length of
// the target month so that Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}

// MonthlyEquivalent normalizes price to a per-month amount in its original
// currency.
func MonthlyEquivalent(price float64, cycle Cycle) float64 {
	switch cycle {
	case Quarterly:
		return price / 3
	case Yearly:
		return price / 12
	default:
		return price
	}
}

// NextBillingOnOrAfter rolls start forward by whole cycles until it is not
// before ref. It returns start when start is already on or after ref.
func NextBillingOnOrAfter(start, ref time.Time, cycle Cycle) time.Time {
	next := start
	for i := 1; next.Before(ref); i++ {
		// Step from start each time so month-end dates do not drift.
		next = cycle.Advance(start, i)
	}
	return next
}
