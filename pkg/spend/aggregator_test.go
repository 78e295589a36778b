package spend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
)

// mapConverter converts using fixed rates keyed "FROM->TO".
type mapConverter struct {
	rates map[string]float64
	delay time.Duration
}

func (c mapConverter) Convert(ctx context.Context, amount float64, from, to currency.Code) (float64, error) {
	if from == to {
		return amount, nil
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	rate, ok := c.rates[string(from)+"->"+string(to)]
	if !ok {
		return 0, apperrors.ErrRateUnavailable
	}
	return amount * rate, nil
}

func TestTotalEmptyIsZero(t *testing.T) {
	agg := NewAggregator(mapConverter{})

	total, err := agg.Total(context.Background(), nil, currency.USD)
	require.NoError(t, err)
	assert.Zero(t, total)

	groups, err := agg.ByGroup(context.Background(), []Subscription{}, currency.EUR, GroupCategory)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestTotalMixedCycles(t *testing.T) {
	agg := NewAggregator(mapConverter{})
	subs := []Subscription{
		{ID: "a", Price: 100, Currency: currency.USD, Cycle: billing.Monthly},
		{ID: "b", Price: 120, Currency: currency.USD, Cycle: billing.Yearly},
	}

	total, err := agg.Total(context.Background(), subs, currency.USD)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, total, 1e-9)
}

func TestByGroupUsesCategoryNames(t *testing.T) {
	agg := NewAggregator(mapConverter{rates: map[string]float64{"EUR->USD": 2}})
	subs := []Subscription{
		{ID: "1", Price: 10, Currency: currency.USD, Cycle: billing.Monthly, Category: "Streaming"},
		{ID: "2", Price: 30, Currency: currency.EUR, Cycle: billing.Quarterly, Category: "Streaming"},
		{ID: "3", Price: 5, Currency: currency.USD, Cycle: billing.Monthly},
		{ID: "4", Price: 24, Currency: currency.USD, Cycle: billing.Yearly, Category: "  "},
	}

	groups, err := agg.ByGroup(context.Background(), subs, currency.USD, GroupCategory)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, groups["Streaming"], 1e-9)
	assert.InDelta(t, 7.0, groups[Uncategorized], 1e-9)
	assert.Len(t, groups, 2)
}

func TestAggregateCountsUnconvertedAmounts(t *testing.T) {
	agg := NewAggregator(mapConverter{rates: map[string]float64{"EUR->USD": 1.1}})
	subs := []Subscription{
		{ID: "1", Price: 10, Currency: currency.EUR, Cycle: billing.Monthly},
		{ID: "2", Price: 1200, Currency: currency.JPY, Cycle: billing.Monthly},
		{ID: "3", Price: 300, Currency: currency.JPY, Cycle: billing.Quarterly},
	}

	res, err := agg.Aggregate(context.Background(), subs, currency.USD, GroupCurrency)
	require.NoError(t, err)
	assert.InDelta(t, 11+1200+100, res.Total, 1e-9)
	assert.Equal(t, []currency.Code{currency.JPY}, res.Unconverted)
	assert.InDelta(t, 1300.0, res.Groups["JPY"], 1e-9)
	assert.Equal(t, 3, res.Count)
}

func TestAggregateReturnsCancellation(t *testing.T) {
	agg := NewAggregator(mapConverter{delay: time.Second, rates: map[string]float64{"EUR->USD": 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Aggregate(ctx, []Subscription{{ID: "1", Price: 1, Currency: currency.EUR}}, currency.USD, GroupNone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	agg := NewAggregator(mapConverter{rates: map[string]float64{"GBP->USD": 1.27, "EUR->USD": 1.09}})
	subs := []Subscription{
		{ID: "1", Price: 9.99, Currency: currency.GBP, Cycle: billing.Monthly, Category: "A"},
		{ID: "2", Price: 59.88, Currency: currency.EUR, Cycle: billing.Yearly, Category: "B"},
		{ID: "3", Price: 14.5, Currency: currency.USD, Cycle: billing.Quarterly, Category: "A"},
	}
	reversed := []Subscription{subs[2], subs[1], subs[0]}

	a, err := agg.Total(context.Background(), subs, currency.USD)
	require.NoError(t, err)
	b, err := agg.Total(context.Background(), reversed, currency.USD)
	require.NoError(t, err)
	assert.InDelta(t, a, b, 1e-9)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveAggregation(groupBy string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, groupBy)
}

func TestAggregateReportsDuration(t *testing.T) {
	obs := &recordingObserver{}
	agg := NewAggregator(mapConverter{}, WithObserver(obs), WithConcurrency(2))

	_, err := agg.ByGroup(context.Background(), []Subscription{{ID: "1", Price: 3, Currency: currency.USD}}, currency.USD, GroupNone)
	require.NoError(t, err)
	assert.Equal(t, []string{"category"}, obs.calls)
}

func TestParseGroupBy(t *testing.T) {
	g, err := ParseGroupBy("Category")
	require.NoError(t, err)
	assert.Equal(t, GroupCategory, g)

	g, err = ParseGroupBy("")
	require.NoError(t, err)
	assert.Equal(t, GroupNone, g)

	_, err = ParseGroupBy("owner")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
