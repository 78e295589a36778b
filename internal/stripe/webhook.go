// Package stripe applies Stripe payment events to entitlement records.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/rcourtman/subtracker/internal/metrics"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/pkg/entitlement"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Event outcomes stored in the audit log.
const (
	OutcomePremium   = "premium_applied"
	OutcomeCancelled = "cancellation_applied"
	OutcomeLifetime  = "lifetime_unchanged"
	OutcomeIgnored   = "ignored"
	OutcomeNoUser    = "no_user"
	OutcomeFailed    = "failed"
)

// Store is the record access the webhook needs.
type Store interface {
	GetAccess(ctx context.Context, userID string) (*entitlement.UserAccess, error)
	UpdateAccess(ctx context.Context, a entitlement.UserAccess) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	RecordWebhookEvent(ctx context.Context, e *store.WebhookEvent) error
}

// Notifier sends the premium confirmation.
type Notifier interface {
	PremiumActivated(ctx context.Context, email string, access entitlement.UserAccess) error
}

// Recorder counts transitions.
type Recorder interface {
	RecordTransition(to, result string)
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret   string
	store    Store
	notifier Notifier
	recorder Recorder
	now      func() time.Time
}

// Option customizes a WebhookHandler.
type Option func(*WebhookHandler)

// WithNotifier sets the premium confirmation sender.
func WithNotifier(n Notifier) Option {
	return func(h *WebhookHandler) { h.notifier = n }
}

// WithRecorder sets the transition recorder.
func WithRecorder(r Recorder) Option {
	return func(h *WebhookHandler) { h.recorder = r }
}

// WithClock sets the clock used for transitions.
func WithClock(now func() time.Time) Option {
	return func(h *WebhookHandler) {
		if now != nil {
			h.now = now
		}
	}
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, st Store, opts ...Option) *WebhookHandler {
	h := &WebhookHandler{
		secret:   secret,
		store:    st,
		recorder: metrics.Recorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected Stripe webhook with invalid signature")
		status = http.StatusUnauthorized
		writeJSON(w, status, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	userID, outcome, procErr := h.handleEvent(r.Context(), &event)
	if procErr != nil {
		outcome = OutcomeFailed
	}
	h.audit(r.Context(), &event, userID, outcome, payload)

	if procErr != nil {
		log.Error().Err(procErr).
			Str("event_id", event.ID).
			Str("type", eventType).
			Str("user_id", userID).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, status, webhookReceivedResponse{Received: true, Outcome: outcome})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) (userID, outcome string, err error) {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", "", fmt.Errorf("decode checkout.session: %w", err)
		}
		if !session.Paid() {
			return session.UserID(), OutcomeIgnored, nil
		}
		return h.applyPremium(ctx, session.UserID())

	case "invoice.payment_succeeded":
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", "", fmt.Errorf("decode invoice: %w", err)
		}
		return h.applyPremium(ctx, inv.UserID())

	case "customer.subscription.created", "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", "", fmt.Errorf("decode subscription: %w", err)
		}
		switch {
		case GrantsPremium(sub.Status) && event.Type == "customer.subscription.updated" && !statusChanged(event):
			return h.keepPremium(ctx, sub.UserID())
		case GrantsPremium(sub.Status):
			return h.applyPremium(ctx, sub.UserID())
		case EndsPremium(sub.Status):
			return h.applyCancellation(ctx, sub.UserID())
		default:
			return sub.UserID(), OutcomeIgnored, nil
		}

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", "", fmt.Errorf("decode subscription: %w", err)
		}
		return h.applyCancellation(ctx, sub.UserID())

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return "", OutcomeIgnored, nil
	}
}

func (h *WebhookHandler) applyPremium(ctx context.Context, userID string) (string, string, error) {
	return h.transition(ctx, userID, entitlement.StatusPremium, entitlement.ApplyPremium)
}

// keepPremium handles an update that did not touch the subscription status,
// such as a metadata edit. A premium record whose term is still running keeps
// it; anything else is upgraded as if the status had just changed.
func (h *WebhookHandler) keepPremium(ctx context.Context, userID string) (string, string, error) {
	if userID != "" {
		current, err := h.store.GetAccess(ctx, userID)
		if err == nil && current != nil && premiumTermRunning(current, h.now()) {
			log.Debug().Str("user_id", userID).Msg("Subscription update without status change, premium term kept")
			return userID, OutcomeIgnored, nil
		}
	}
	return h.applyPremium(ctx, userID)
}

func premiumTermRunning(a *entitlement.UserAccess, now time.Time) bool {
	return entitlement.Derive(a, now) == entitlement.StatePremium &&
		a.SubscriptionEndDate != nil && a.SubscriptionEndDate.After(now)
}

// statusChanged reports whether an update event lists status among the
// attributes it changed.
func statusChanged(event *stripelib.Event) bool {
	if event.Data == nil {
		return false
	}
	_, ok := event.Data.PreviousAttributes["status"]
	return ok
}

func (h *WebhookHandler) applyCancellation(ctx context.Context, userID string) (string, string, error) {
	return h.transition(ctx, userID, entitlement.StatusFree, entitlement.ApplyCancellation)
}

func (h *WebhookHandler) transition(
	ctx context.Context,
	userID string,
	to entitlement.Status,
	apply func(entitlement.UserAccess, time.Time) (entitlement.UserAccess, error),
) (string, string, error) {
	if userID == "" {
		log.Warn().Str("to", string(to)).Msg("Stripe event carries no user id")
		return "", OutcomeNoUser, nil
	}

	current, err := h.store.GetAccess(ctx, userID)
	if err != nil {
		return userID, "", fmt.Errorf("load access: %w", err)
	}
	if current == nil {
		// The user has not signed in yet; Stripe redelivers until it succeeds.
		return userID, "", fmt.Errorf("no access record for user %s", userID)
	}

	next, err := apply(*current, h.now())
	switch {
	case errors.Is(err, entitlement.ErrLifetimeTerminal):
		h.recorder.RecordTransition(string(to), "lifetime")
		log.Info().Str("user_id", userID).Str("to", string(to)).Msg("Lifetime access left unchanged by payment event")
		return userID, OutcomeLifetime, nil
	case errors.Is(err, entitlement.ErrInvalidTransition):
		h.recorder.RecordTransition(string(to), "invalid")
		log.Warn().Err(err).Str("user_id", userID).Msg("Payment event does not apply to current status")
		return userID, OutcomeIgnored, nil
	case err != nil:
		return userID, "", err
	}

	if err := h.store.UpdateAccess(ctx, next); err != nil {
		h.recorder.RecordTransition(string(to), "error")
		return userID, "", fmt.Errorf("update access: %w", err)
	}
	h.recorder.RecordTransition(string(to), "applied")

	log.Info().
		Str("user_id", userID).
		Str("from", string(current.SubscriptionStatus)).
		Str("to", string(next.SubscriptionStatus)).
		Msg("Entitlement updated from payment event")

	if to == entitlement.StatusPremium {
		h.notifyPremium(ctx, next)
		return userID, OutcomePremium, nil
	}
	return userID, OutcomeCancelled, nil
}

func (h *WebhookHandler) notifyPremium(ctx context.Context, access entitlement.UserAccess) {
	if h.notifier == nil {
		return
	}
	user, err := h.store.GetUser(ctx, access.UserID)
	if err != nil || user == nil || user.Email == "" {
		log.Warn().Err(err).Str("user_id", access.UserID).Msg("No email address for premium confirmation")
		return
	}
	if err := h.notifier.PremiumActivated(ctx, user.Email, access); err != nil {
		log.Warn().Err(err).Str("user_id", access.UserID).Msg("Failed to send premium confirmation email")
	}
}

func (h *WebhookHandler) audit(ctx context.Context, event *stripelib.Event, userID, outcome string, payload []byte) {
	err := h.store.RecordWebhookEvent(ctx, &store.WebhookEvent{
		StripeEventID: event.ID,
		Type:          string(event.Type),
		UserID:        userID,
		Outcome:       outcome,
		Payload:       payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to record webhook event")
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("stripe: encode webhook response")
	}
}
