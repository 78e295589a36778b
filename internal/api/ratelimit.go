package api

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/subtracker/internal/metrics"
)

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
)

// RateLimitOptions configures a RateLimiter. Zero values fall back to
// 120 requests per minute with no trusted proxies.
type RateLimitOptions struct {
	Limit  int
	Window time.Duration
	// TrustedProxies lists the networks whose X-Forwarded-For header is
	// believed. Requests from any other peer are keyed by RemoteAddr.
	TrustedProxies []netip.Prefix
	Now            func() time.Time
}

// RateLimiter admits at most Limit requests per client inside any sliding
// Window. Each client keeps a ring of its last Limit admitted requests; a
// request is refused while the oldest of them is still inside the window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*requestRing
	limit   int
	window  time.Duration
	proxies []netip.Prefix
	now     func() time.Time
}

type requestRing struct {
	at   []time.Time
	head int // oldest entry once the ring is full
}

func (r *requestRing) newest() time.Time {
	if len(r.at) < cap(r.at) {
		return r.at[len(r.at)-1]
	}
	return r.at[(r.head+len(r.at)-1)%len(r.at)]
}

// NewRateLimiter builds a limiter from opts.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	if opts.Limit <= 0 {
		opts.Limit = defaultRateLimit
	}
	if opts.Window <= 0 {
		opts.Window = defaultRateWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateLimiter{
		clients: make(map[string]*requestRing),
		limit:   opts.Limit,
		window:  opts.Window,
		proxies: opts.TrustedProxies,
		now:     opts.Now,
	}
}

// Reserve admits one request for key. When the client is over its limit it
// returns false and how long until the oldest counted request leaves the
// window.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	ring := rl.clients[key]
	if ring == nil {
		ring = &requestRing{at: make([]time.Time, 0, rl.limit)}
		rl.clients[key] = ring
	}
	if len(ring.at) < rl.limit {
		ring.at = append(ring.at, now)
		return true, 0
	}
	if wait := ring.at[ring.head].Add(rl.window).Sub(now); wait > 0 {
		return false, wait
	}
	ring.at[ring.head] = now
	ring.head = (ring.head + 1) % rl.limit
	return true, 0
}

// Sweep forgets clients whose newest request is outside the window.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for key, ring := range rl.clients {
		if len(ring.at) == 0 || !ring.newest().After(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Middleware refuses over-limit requests with 429 and a Retry-After header
// in whole seconds.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.ClientKey(r)
		ok, wait := rl.Reserve(key)
		if !ok {
			metrics.RateLimitedTotal.WithLabelValues(r.Pattern).Inc()
			log.Debug().Str("client", key).Dur("retry_after", wait).Msg("Request rate limited")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeErrorMessage(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller. X-Forwarded-For is walked from the right
// only while each hop is a trusted proxy, so a client cannot pick its own key
// by sending the header directly.
func (rl *RateLimiter) ClientKey(r *http.Request) string {
	peer, ok := remoteAddr(r)
	if !ok {
		return r.RemoteAddr
	}
	if !rl.trusted(peer) {
		return peer.String()
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		hop = hop.Unmap()
		if !rl.trusted(hop) {
			return hop.String()
		}
		peer = hop
	}
	return peer.String()
}

func (rl *RateLimiter) trusted(addr netip.Addr) bool {
	for _, p := range rl.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
