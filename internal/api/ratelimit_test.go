package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := testNow
	rl := NewRateLimiter(RateLimitOptions{Limit: 3, Window: time.Minute, Now: func() time.Time { return now }})

	for i := 0; i < 3; i++ {
		ok, _ := rl.Reserve("a")
		require.True(t, ok, "request %d", i)
		now = now.Add(10 * time.Second)
	}

	// Oldest admitted request was at +0s; it leaves the window at +60s.
	ok, wait := rl.Reserve("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	ok, _ = rl.Reserve("b")
	assert.True(t, ok, "clients are limited independently")

	now = testNow.Add(time.Minute)
	ok, _ = rl.Reserve("a")
	assert.True(t, ok)

	// The next slot frees when the +10s request expires.
	ok, wait = rl.Reserve("a")
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)
}

func TestRateLimiterSweep(t *testing.T) {
	now := testNow
	rl := NewRateLimiter(RateLimitOptions{Limit: 2, Window: time.Minute, Now: func() time.Time { return now }})

	rl.Reserve("old")
	now = now.Add(30 * time.Second)
	rl.Reserve("recent")
	rl.Reserve("recent")

	now = testNow.Add(time.Minute)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 0, rl.Sweep())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, rl.Sweep())
}

func TestRateLimiterRetryAfterRoundsUp(t *testing.T) {
	now := testNow
	rl := NewRateLimiter(RateLimitOptions{Limit: 1, Window: 2 * time.Second, Now: func() time.Time { return now }})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve().Code)
	now = now.Add(1800 * time.Millisecond)
	rec := serve()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "too many requests", decode[errorResponse](t, rec).Error)
}

func TestRateLimiterClientKey(t *testing.T) {
	rl := NewRateLimiter(RateLimitOptions{TrustedProxies: []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/64"),
	}})

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct client", "203.0.113.9:4000", "", "203.0.113.9"},
		{"untrusted peer cannot spoof", "203.0.113.9:4000", "198.51.100.1", "203.0.113.9"},
		{"trusted proxy", "10.1.2.3:80", "198.51.100.1", "198.51.100.1"},
		{"chain of trusted proxies", "10.1.2.3:80", "198.51.100.1, 10.9.9.9", "198.51.100.1"},
		{"client-supplied prefix ignored", "10.1.2.3:80", "1.1.1.1, 198.51.100.1", "198.51.100.1"},
		{"trusted proxy without header", "10.1.2.3:80", "", "10.1.2.3"},
		{"garbage hop stops walk", "10.1.2.3:80", "198.51.100.1, junk", "10.1.2.3"},
		{"ipv6 proxy", "[fd00::5]:443", "2001:db8::1", "2001:db8::1"},
		{"mapped ipv4 peer", "[::ffff:10.1.2.3]:80", "198.51.100.1", "198.51.100.1"},
		{"unparseable remote addr", "pipe", "198.51.100.1", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/hook", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, rl.ClientKey(r))
		})
	}
}

func TestRateLimiterKeysBySpoofedHeaderOnlyBehindProxy(t *testing.T) {
	rl := NewRateLimiter(RateLimitOptions{Limit: 1, Window: time.Minute})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, xff := range []string{"198.51.100.1", "198.51.100.2"} {
		r := httptest.NewRequest(http.MethodPost, "/hook", nil)
		r.RemoteAddr = "203.0.113.9:4000"
		r.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if i == 0 {
			assert.Equal(t, http.StatusNoContent, rec.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code, "rotating X-Forwarded-For must not reset the limit")
		}
	}
}
