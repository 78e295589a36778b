package spend

import (
	"context"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/pkg/currency"
)

// MaxTimelineMonths bounds Timeline requests.
const MaxTimelineMonths = 36

// Renewal is one projected charge.
type Renewal struct {
	SubscriptionID string        `json:"subscription_id"`
	Name           string        `json:"name"`
	Date           time.Time     `json:"date"`
	Amount         float64       `json:"amount"`
	Currency       currency.Code `json:"currency"`
	Category       string        `json:"category"`
}

// MonthTotal is the converted sum of charges falling in one calendar month.
type MonthTotal struct {
	Month   string  `json:"month"`
	Total   float64 `json:"total"`
	Charges int     `json:"charges"`
	Partial bool    `json:"partial,omitempty"`
}

// MonthStart returns the first instant of t's month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Renewals lists every charge of subs in [from, to), in date order and in
// each subscription's own currency. Subscriptions without a next billing
// date are skipped.
func Renewals(subs []Subscription, from, to time.Time) []Renewal {
	var out []Renewal
	for _, sub := range subs {
		if sub.NextBilling.IsZero() {
			continue
		}
		next := sub.NextBilling.UTC()
		anchor, step := scheduleAnchor(sub, next)
		// Charges before the next billing date are already paid.
		for i := step; ; i++ {
			date := sub.Cycle.Advance(anchor, i)
			if !date.Before(to) {
				break
			}
			if date.Before(from) || date.Before(next) {
				continue
			}
			out = append(out, Renewal{
				SubscriptionID: sub.ID,
				Name:           sub.Name,
				Date:           date,
				Amount:         sub.Price,
				Currency:       sub.Currency,
				Category:       categoryOrDefault(sub.Category),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// scheduleAnchor returns the date the charge schedule is counted from and
// the cycle index of next on it. A next billing date entered off the start
// date's schedule becomes its own anchor.
func scheduleAnchor(sub Subscription, next time.Time) (time.Time, int) {
	if sub.Start.IsZero() {
		return next, 0
	}
	start := sub.Start.UTC()
	for i := 0; ; i++ {
		date := sub.Cycle.Advance(start, i)
		if date.Equal(next) {
			return start, i
		}
		if date.After(next) {
			return next, 0
		}
	}
}

// Calendar lists the charges falling in month.
func Calendar(subs []Subscription, month time.Time) []Renewal {
	start := MonthStart(month)
	return Renewals(subs, start, start.AddDate(0, 1, 0))
}

// Timeline projects actual charges, converted to display, for months
// calendar months starting at from's month. A month whose charges could
// not all be converted is marked partial.
func (a *Aggregator) Timeline(ctx context.Context, subs []Subscription, display currency.Code, from time.Time, months int) ([]MonthTotal, error) {
	if months < 1 || months > MaxTimelineMonths {
		return nil, apperrors.Invalid("months", "timeline months must be between 1 and %d", MaxTimelineMonths)
	}
	start := MonthStart(from)
	out := make([]MonthTotal, months)
	index := make(map[string]int, months)
	for i := range out {
		key := start.AddDate(0, i, 0).Format("2006-01")
		out[i].Month = key
		index[key] = i
	}

	for _, r := range Renewals(subs, start, start.AddDate(0, months, 0)) {
		m := &out[index[r.Date.Format("2006-01")]]
		v, err := a.conv.Convert(ctx, r.Amount, r.Currency, display)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("project timeline: %w", ctxErr)
			}
			v = r.Amount
			m.Partial = true
		}
		m.Total += v
		m.Charges++
	}
	return out, nil
}

func categoryOrDefault(name string) string {
	if name == "" {
		return Uncategorized
	}
	return name
}
