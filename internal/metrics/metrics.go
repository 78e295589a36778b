// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rcourtman/subtracker/pkg/currency"
)

var (
	// WebhookRequestsTotal counts payment webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtracker",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subtracker",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// EntitlementTransitionsTotal counts status changes applied by payment events.
	EntitlementTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtracker",
		Subsystem: "entitlement",
		Name:      "transitions_total",
		Help:      "Entitlement status transitions by target status and result.",
	}, []string{"to", "result"})

	// ProvisioningTotal counts access provisioning attempts by outcome.
	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtracker",
		Subsystem: "access",
		Name:      "provisioning_total",
		Help:      "Total access provisioning attempts by outcome.",
	}, []string{"outcome"})

	// RateLookupsTotal counts exchange-rate lookups by base currency and outcome.
	RateLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtracker",
		Subsystem: "fx",
		Name:      "rate_lookups_total",
		Help:      "Exchange-rate lookups by base currency and outcome (cache_hit, fetched, stale, fallback, error).",
	}, []string{"base", "outcome"})

	// AggregationDuration tracks spend aggregation latency.
	AggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subtracker",
		Subsystem: "spend",
		Name:      "aggregation_duration_seconds",
		Help:      "Spend aggregation duration in seconds by grouping.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"group_by"})

	// HTTPRequestsTotal counts API requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtracker",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "API requests by route pattern and HTTP status.",
	}, []string{"route", "status"})

	// RateLimitedTotal counts requests refused by a rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtracker",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests refused with 429 by route pattern.",
	}, []string{"route"})

	// RealtimeClients tracks connected websocket clients.
	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subtracker",
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected realtime websocket clients.",
	})

	// AccessByState tracks stored entitlement records by derived state.
	AccessByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "subtracker",
		Subsystem: "entitlement",
		Name:      "records_by_state",
		Help:      "Number of entitlement records by derived state.",
	}, []string{"state"})
)

// Recorder adapts the package collectors to the recorder interfaces used by
// the domain packages.
type Recorder struct{}

// RecordRateLookup counts one exchange-rate lookup.
func (Recorder) RecordRateLookup(base currency.Code, outcome string) {
	RateLookupsTotal.WithLabelValues(string(base), outcome).Inc()
}

// RecordProvisioning counts one provisioning outcome.
func (Recorder) RecordProvisioning(outcome string) {
	ProvisioningTotal.WithLabelValues(outcome).Inc()
}

// ObserveAggregation records the duration of one aggregation pass.
func (Recorder) ObserveAggregation(groupBy string, d time.Duration) {
	if groupBy == "" {
		groupBy = "none"
	}
	AggregationDuration.WithLabelValues(groupBy).Observe(d.Seconds())
}

// RecordTransition counts one entitlement transition attempt.
func (Recorder) RecordTransition(to, result string) {
	EntitlementTransitionsTotal.WithLabelValues(to, result).Inc()
}

// SetAccessStates replaces the per-state record gauges. States missing from
// counts are reset to zero.
func SetAccessStates(known []string, counts map[string]int) {
	for _, state := range known {
		AccessByState.WithLabelValues(state).Set(float64(counts[state]))
	}
	for state, n := range counts {
		AccessByState.WithLabelValues(state).Set(float64(n))
	}
}
