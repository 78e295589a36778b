package currency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingFetcher struct {
	calls atomic.Int32
	clock *fakeClock
	rates map[Code]map[Code]float64
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, base Code) (RateTable, error) {
	f.calls.Add(1)
	if f.err != nil {
		return RateTable{}, f.err
	}
	return NewRateTable(base, f.rates[base], f.clock.Now(), SourceLive), nil
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingRecorder) RecordRateLookup(_ Code, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func newTestConverter(fetcher *countingFetcher, clock *fakeClock, rec LookupRecorder) *Converter {
	cache := NewCache(time.Hour, clock.Now)
	return NewConverter(fetcher, cache, WithClock(clock.Now), WithRecorder(rec))
}

func TestConvertSameCurrencyNeverFetches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{clock: clock}
	conv := newTestConverter(fetcher, clock, nil)

	for _, code := range Supported() {
		got, err := conv.Convert(context.Background(), 42.5, code, code)
		require.NoError(t, err)
		assert.Equal(t, 42.5, got)
	}
	assert.Zero(t, fetcher.calls.Load(), "same-currency conversion must not fetch")
}

func TestConvertUsesCacheUntilStale(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{
		clock: clock,
		rates: map[Code]map[Code]float64{USD: {EUR: 0.5}},
	}
	rec := &recordingRecorder{}
	conv := newTestConverter(fetcher, clock, rec)
	ctx := context.Background()

	got, err := conv.Convert(ctx, 10, USD, EUR)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got, 1e-9)

	clock.Advance(30 * time.Minute)
	_, err = conv.Convert(ctx, 10, USD, EUR)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load(), "fresh table should be served from cache")

	clock.Advance(31 * time.Minute)
	_, err = conv.Convert(ctx, 10, USD, EUR)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load(), "stale table should be refetched")

	assert.Equal(t, []string{OutcomeFetched, OutcomeHit, OutcomeFetched}, rec.outcomes)
}

func TestConvertMissingTargetIsRateUnavailable(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{
		clock: clock,
		rates: map[Code]map[Code]float64{USD: {EUR: 0.9}},
	}
	conv := newTestConverter(fetcher, clock, nil)

	_, err := conv.Convert(context.Background(), 1, USD, JPY)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateUnavailable))
}

func TestConvertFallsBackToStaticRatesOnFetchFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{clock: clock, err: errors.New("network down")}
	rec := &recordingRecorder{}
	conv := newTestConverter(fetcher, clock, rec)

	got, err := conv.Convert(context.Background(), 100, USD, EUR)
	require.NoError(t, err)
	assert.InDelta(t, 100*fallbackUSDRates[EUR], got, 1e-9)
	assert.Equal(t, []string{OutcomeFallback}, rec.outcomes)

	// Cross rates derive from the USD table.
	got, err = conv.Convert(context.Background(), 10, EUR, GBP)
	require.NoError(t, err)
	assert.InDelta(t, 10*fallbackUSDRates[GBP]/fallbackUSDRates[EUR], got, 1e-9)
}

func TestConvertPrefersStaleTableOverFallback(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &countingFetcher{
		clock: clock,
		rates: map[Code]map[Code]float64{USD: {EUR: 0.5}},
	}
	conv := newTestConverter(fetcher, clock, nil)
	ctx := context.Background()

	_, err := conv.Convert(ctx, 1, USD, EUR)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	fetcher.err = errors.New("timeout")

	got, err := conv.Convert(ctx, 10, USD, EUR)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestConvertRejectsUnknownCodes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	conv := newTestConverter(&countingFetcher{clock: clock}, clock, nil)

	_, err := conv.Convert(context.Background(), 1, Code("XXX"), USD)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestConcurrentConversionsShareOneFetch(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := FetcherFunc(func(_ context.Context, base Code) (RateTable, error) {
		calls.Add(1)
		<-release
		return NewRateTable(base, map[Code]float64{EUR: 2}, clock.Now(), SourceLive), nil
	})
	conv := NewConverter(fetcher, NewCache(time.Hour, clock.Now))

	var wg sync.WaitGroup
	results := make([]float64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := conv.Convert(context.Background(), 1, USD, EUR)
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(len(results)))
	for _, v := range results {
		assert.Equal(t, 2.0, v)
	}
}
