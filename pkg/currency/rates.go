package currency

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched rate table is considered fresh.
const DefaultCacheTTL = time.Hour

// Rate table sources.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// RateTable maps currencies to their rate relative to Base.
type RateTable struct {
	Base      Code             `json:"base"`
	Rates     map[Code]float64 `json:"rates"`
	FetchedAt time.Time        `json:"fetched_at"`
	Source    string           `json:"source"`
}

// NewRateTable copies rates, drops unsupported or non-positive entries and pins
// the base currency to 1.
func NewRateTable(base Code, rates map[Code]float64, fetchedAt time.Time, source string) RateTable {
	cleaned := make(map[Code]float64, len(rates)+1)
	for code, rate := range rates {
		if !code.Valid() || rate <= 0 {
			continue
		}
		cleaned[code] = rate
	}
	cleaned[base] = 1
	return RateTable{
		Base:      base,
		Rates:     cleaned,
		FetchedAt: fetchedAt,
		Source:    source,
	}
}

// Rate returns the rate for converting one unit of Base into to.
func (t RateTable) Rate(to Code) (float64, bool) {
	rate, ok := t.Rates[to]
	return rate, ok
}

// Cache holds per-base rate tables process-wide. Entries expire independently.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[Code]RateTable
}

// NewCache creates a cache with the given TTL. A nil clock uses time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		entries: make(map[Code]RateTable),
	}
}

// Get returns the table for base when present and still fresh.
func (c *Cache) Get(base Code) (RateTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	table, ok := c.entries[base]
	if !ok {
		return RateTable{}, false
	}
	if c.now().Sub(table.FetchedAt) >= c.ttl {
		return RateTable{}, false
	}
	return table, true
}

// Stale returns the last stored table for base regardless of age.
func (c *Cache) Stale(base Code) (RateTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	table, ok := c.entries[base]
	return table, ok
}

// Put stores table, replacing any previous entry for its base.
func (c *Cache) Put(table RateTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[table.Base] = table
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
