// Package api serves the HTTP interface of the subscription tracker.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/internal/provisioning"
	"github.com/rcourtman/subtracker/internal/realtime"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/internal/subscriptions"
	"github.com/rcourtman/subtracker/pkg/currency"
	"github.com/rcourtman/subtracker/pkg/entitlement"
	"github.com/rcourtman/subtracker/pkg/reporting"
	"github.com/rcourtman/subtracker/pkg/spend"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Store         *store.Store
	Verifier      auth.Verifier
	Provisioner   *provisioning.Provisioner
	Subscriptions *subscriptions.Service
	Rates         *currency.Converter
	Aggregator    *spend.Aggregator

	// AccessCache is the live entitlement view; nil reads the store.
	AccessCache *realtime.Mirror[entitlement.UserAccess]
	// Realtime serves /api/realtime; nil leaves the route unregistered.
	Realtime http.Handler
	// Webhook serves /api/stripe/webhook behind WebhookLimiter.
	Webhook        http.Handler
	WebhookLimiter *RateLimiter

	DefaultCurrency currency.Code
	Version         string
	Now             func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) displayCurrency() currency.Code {
	if d.DefaultCurrency.Valid() {
		return d.DefaultCurrency
	}
	return currency.USD
}

// access returns the caller's entitlement record, preferring the live
// cache. A nil record means none exists yet.
func (d *Deps) access(ctx context.Context, userID string) (*entitlement.UserAccess, error) {
	if d.AccessCache != nil {
		if a, ok := d.AccessCache.Get(userID); ok {
			return &a, nil
		}
	}
	return d.Store.GetAccess(ctx, userID)
}

// NewHandler builds the full middleware-wrapped API handler.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return RequestHandler(SecurityHeaders(mux))
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	authed := auth.Middleware(deps.Verifier)
	gated := func(next http.Handler) http.Handler {
		return authed(requireAnalytics(deps, next))
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))
	mux.HandleFunc("/api/version", HandleVersion(deps.Version))
	mux.Handle("/metrics", promhttp.Handler())

	// Stripe webhook (signature-authenticated)
	if deps.Webhook != nil {
		limiter := deps.WebhookLimiter
		if limiter == nil {
			limiter = NewRateLimiter(RateLimitOptions{})
		}
		mux.Handle("/api/stripe/webhook", limiter.Middleware(deps.Webhook))
	}

	mux.Handle("/api/session", authed(HandleSession(deps)))
	mux.Handle("/api/access", authed(HandleAccess(deps)))

	mux.Handle("/api/subscriptions", authed(HandleSubscriptions(deps)))
	mux.Handle("/api/subscriptions/{id}", authed(HandleSubscription(deps)))
	mux.Handle("/api/categories", authed(HandleCategories(deps)))
	mux.Handle("/api/categories/{id}", authed(HandleCategory(deps)))

	mux.Handle("/api/spend", authed(HandleSpend(deps)))
	mux.Handle("/api/rates/{base}", authed(HandleRates(deps)))

	if deps.Realtime != nil {
		mux.Handle("/api/realtime", authed(deps.Realtime))
	}

	// Premium analytics (entitlement-gated)
	mux.Handle("/api/analytics/categories", gated(HandleCategoryBreakdown(deps)))
	mux.Handle("/api/analytics/calendar", gated(HandleCalendar(deps)))
	mux.Handle("/api/analytics/timeline", gated(HandleTimeline(deps)))
	mux.Handle("/api/analytics/report.csv", gated(HandleReport(deps, reporting.FormatCSV)))
	mux.Handle("/api/analytics/report.pdf", gated(HandleReport(deps, reporting.FormatPDF)))
}
