package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RecordWebhookEvent stores the raw payment event for audit. Redelivered
// events get their own row.
func (s *Store) RecordWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	if e == nil {
		return fmt.Errorf("webhook event is nil")
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, stripe_event_id, event_type, user_id, outcome, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StripeEventID, e.Type, e.UserID, e.Outcome, e.Payload, e.ReceivedAt.Unix(),
	)
	if err != nil {
		return writeErr("record_webhook_event", e.StripeEventID, err)
	}
	return nil
}

// ListWebhookEvents returns events for a Stripe event ID, oldest first.
func (s *Store) ListWebhookEvents(ctx context.Context, stripeEventID string) ([]*WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stripe_event_id, event_type, user_id, outcome, payload, received_at
		FROM webhook_events WHERE stripe_event_id = ? ORDER BY id ASC`, stripeEventID)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var out []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		var receivedAt int64
		if err := rows.Scan(&e.ID, &e.StripeEventID, &e.Type, &e.UserID, &e.Outcome, &e.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		e.ReceivedAt = time.Unix(receivedAt, 0).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
