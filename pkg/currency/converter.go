package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

// Lookup outcomes reported to a LookupRecorder.
const (
	OutcomeSame     = "same_currency"
	OutcomeHit      = "cache_hit"
	OutcomeFetched  = "fetched"
	OutcomeStale    = "stale"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// LookupRecorder observes how rate tables were resolved.
type LookupRecorder interface {
	RecordRateLookup(base Code, outcome string)
}

// Converter converts amounts using cached, fetched or fallback rate tables.
type Converter struct {
	cache    *Cache
	fetcher  Fetcher
	recorder LookupRecorder
	now      func() time.Time
	group    singleflight.Group
}

// ConverterOption customizes a Converter.
type ConverterOption func(*Converter)

// WithRecorder sets the lookup recorder.
func WithRecorder(r LookupRecorder) ConverterOption {
	return func(c *Converter) { c.recorder = r }
}

// WithClock sets the clock used to stamp fallback tables.
func WithClock(now func() time.Time) ConverterOption {
	return func(c *Converter) {
		if now != nil {
			c.now = now
		}
	}
}

// NewConverter creates a converter. A nil cache gets a fresh one with the
// default TTL.
func NewConverter(fetcher Fetcher, cache *Cache, opts ...ConverterOption) *Converter {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL, nil)
	}
	c := &Converter{
		cache:   cache,
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert returns amount expressed in to. Same-currency conversions return
// amount unchanged without consulting any rate source.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to Code) (float64, error) {
	if from == to {
		c.record(from, OutcomeSame)
		return amount, nil
	}
	if !from.Valid() {
		return 0, apperrors.Invalid("currency", "unsupported currency %q", from)
	}
	if !to.Valid() {
		return 0, apperrors.Invalid("currency", "unsupported currency %q", to)
	}

	table, err := c.Table(ctx, from)
	if err != nil {
		return 0, err
	}
	rate, ok := table.Rate(to)
	if !ok {
		return 0, fmt.Errorf("%w: %s to %s", apperrors.ErrRateUnavailable, from, to)
	}
	return amount * rate, nil
}

// Table returns a rate table for base: fresh from cache, fetched, the last
// stale table, or the static fallback, in that order.
func (c *Converter) Table(ctx context.Context, base Code) (RateTable, error) {
	if table, ok := c.cache.Get(base); ok {
		c.record(base, OutcomeHit)
		return table, nil
	}

	fetchErr := fmt.Errorf("no rate fetcher configured")
	if c.fetcher != nil {
		v, err, _ := c.group.Do(string(base), func() (any, error) {
			// Another caller may have filled the cache while we waited.
			if table, ok := c.cache.Get(base); ok {
				return table, nil
			}
			table, err := c.fetcher.Fetch(ctx, base)
			if err != nil {
				return RateTable{}, err
			}
			c.cache.Put(table)
			return table, nil
		})
		if err == nil {
			c.record(base, OutcomeFetched)
			return v.(RateTable), nil
		}
		fetchErr = err
	}

	if err := ctx.Err(); err != nil {
		return RateTable{}, err
	}

	if stale, ok := c.cache.Stale(base); ok {
		log.Warn().Err(fetchErr).
			Str("base", string(base)).
			Time("fetched_at", stale.FetchedAt).
			Msg("Rate fetch failed, using stale rate table")
		c.record(base, OutcomeStale)
		return stale, nil
	}

	if fallback, ok := FallbackTable(base, c.now()); ok {
		log.Warn().Err(fetchErr).
			Str("base", string(base)).
			Msg("Rate fetch failed, using static fallback rates")
		c.record(base, OutcomeFallback)
		return fallback, nil
	}

	c.record(base, OutcomeError)
	return RateTable{}, fmt.Errorf("%w: no rates for base %s: %v", apperrors.ErrRateUnavailable, base, fetchErr)
}

func (c *Converter) record(base Code, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordRateLookup(base, outcome)
	}
}
