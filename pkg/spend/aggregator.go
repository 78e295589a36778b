// Package spend sums normalized subscription prices in a display currency.
package spend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
)

// Uncategorized is the group key for subscriptions without a category.
const Uncategorized = "Uncategorized"

// DefaultConcurrency bounds in-flight conversions per aggregation pass.
const DefaultConcurrency = 8

// GroupBy selects how ByGroup buckets subscriptions.
type GroupBy string

const (
	GroupNone     GroupBy = ""
	GroupCategory GroupBy = "category"
	GroupCurrency GroupBy = "currency"
	GroupCycle    GroupBy = "cycle"
)

// ParseGroupBy validates a group_by query value.
func ParseGroupBy(raw string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(raw))); g {
	case GroupNone, GroupCategory, GroupCurrency, GroupCycle:
		return g, nil
	default:
		return GroupNone, apperrors.Invalid("group_by", "unsupported grouping %q", raw)
	}
}

// Subscription is the slice of a stored subscription the aggregator needs.
type Subscription struct {
	ID       string
	Name     string
	Price    float64
	Currency currency.Code
	Cycle    billing.Cycle
	// Category is the category name; empty means uncategorized.
	Category string
	// NextBilling is the next charge date. Only projections read it.
	NextBilling time.Time
	// Start is the first charge date. When NextBilling lies on the schedule
	// it starts, projections keep its day of month across short months.
	Start time.Time
}

// Converter converts an amount between currencies.
type Converter interface {
	Convert(ctx context.Context, amount float64, from, to currency.Code) (float64, error)
}

// Observer receives the duration of each aggregation pass.
type Observer interface {
	ObserveAggregation(groupBy string, d time.Duration)
}

// Result is the outcome of one aggregation pass.
type Result struct {
	Currency currency.Code      `json:"currency"`
	Total    float64            `json:"total"`
	Groups   map[string]float64 `json:"groups,omitempty"`
	Count    int                `json:"count"`
	// Unconverted lists source currencies whose amounts were added without
	// conversion because no rate could be resolved.
	Unconverted []currency.Code `json:"unconverted,omitempty"`
}

// Aggregator computes monthly spend totals.
type Aggregator struct {
	conv     Converter
	limit    int
	observer Observer
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithConcurrency caps concurrent conversions. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithObserver sets the aggregation duration observer.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// NewAggregator creates an aggregator backed by conv.
func NewAggregator(conv Converter, opts ...Option) *Aggregator {
	a := &Aggregator{conv: conv, limit: DefaultConcurrency}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Total returns the summed monthly spend of subs in display.
func (a *Aggregator) Total(ctx context.Context, subs []Subscription, display currency.Code) (float64, error) {
	res, err := a.Aggregate(ctx, subs, display, GroupNone)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// ByGroup returns monthly spend per group key in display.
func (a *Aggregator) ByGroup(ctx context.Context, subs []Subscription, display currency.Code, groupBy GroupBy) (map[string]float64, error) {
	if groupBy == GroupNone {
		groupBy = GroupCategory
	}
	res, err := a.Aggregate(ctx, subs, display, groupBy)
	if err != nil {
		return nil, err
	}
	return res.Groups, nil
}

type converted struct {
	amount float64
	ok     bool
}

// Aggregate converts every subscription's monthly equivalent into display
// and sums the results once all conversions have finished. The only error
// it returns is context cancellation.
func (a *Aggregator) Aggregate(ctx context.Context, subs []Subscription, display currency.Code, groupBy GroupBy) (Result, error) {
	start := time.Now()
	res := Result{Currency: display, Count: len(subs)}
	if groupBy != GroupNone {
		res.Groups = make(map[string]float64)
	}
	if len(subs) == 0 {
		return res, nil
	}

	amounts := make([]converted, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, sub := range subs {
		g.Go(func() error {
			monthly := billing.MonthlyEquivalent(sub.Price, sub.Cycle)
			v, err := a.conv.Convert(gctx, monthly, sub.Currency, display)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn().Err(err).
					Str("subscription", sub.ID).
					Str("from", string(sub.Currency)).
					Str("to", string(display)).
					Msg("Conversion failed, counting amount unconverted")
				amounts[i] = converted{amount: monthly}
				return nil
			}
			amounts[i] = converted{amount: v, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("aggregate spend: %w", err)
	}

	unconverted := make(map[currency.Code]struct{})
	for i, sub := range subs {
		if !amounts[i].ok {
			unconverted[sub.Currency] = struct{}{}
		}
	}
	for code := range unconverted {
		res.Unconverted = append(res.Unconverted, code)
	}
	sort.Slice(res.Unconverted, func(i, j int) bool { return res.Unconverted[i] < res.Unconverted[j] })

	// Sum per group in key order so repeated passes give identical totals.
	buckets := make(map[string][]float64)
	for i, sub := range subs {
		key := groupKey(sub, groupBy)
		buckets[key] = append(buckets[key], amounts[i].amount)
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var sum float64
		for _, v := range buckets[k] {
			sum += v
		}
		if res.Groups != nil {
			res.Groups[k] = sum
		}
		res.Total += sum
	}

	if a.observer != nil {
		a.observer.ObserveAggregation(string(groupBy), time.Since(start))
	}
	return res, nil
}

func groupKey(sub Subscription, groupBy GroupBy) string {
	switch groupBy {
	case GroupCategory:
		if strings.TrimSpace(sub.Category) == "" {
			return Uncategorized
		}
		return sub.Category
	case GroupCurrency:
		return string(sub.Currency)
	case GroupCycle:
		if !sub.Cycle.Known() {
			return string(billing.Monthly)
		}
		return string(sub.Cycle)
	default:
		return ""
	}
}
