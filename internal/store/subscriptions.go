package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/rcourtman/subtracker/internal/realtime"
	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
)

const subscriptionSelect = `SELECT
	s.id, s.owner_id, s.name, s.price, s.currency, s.billing_cycle,
	s.start_date, s.next_billing_date, s.category_id, s.notes,
	s.created_at, s.updated_at, COALESCE(c.name, '')
	FROM subscriptions s LEFT JOIN categories c ON c.id = s.category_id`

// CreateSubscription inserts sub. The ID is generated when empty.
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	if sub.ID == "" {
		sub.ID = ulid.Make().String()
	}
	now := s.now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, owner_id, name, price, currency, billing_cycle,
			start_date, next_billing_date, category_id, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OwnerID, sub.Name, sub.Price.String(), string(sub.Currency), string(sub.BillingCycle),
		formatDate(sub.StartDate), formatDate(sub.NextBillingDate), nullableString(sub.CategoryID), sub.Notes,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return writeErr("create_subscription", sub.ID, err)
	}
	return s.reloadAndPublish(ctx, sub, realtime.OpInsert)
}

// UpdateSubscription replaces the editable fields of ownerID's subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	sub.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			name = ?, price = ?, currency = ?, billing_cycle = ?,
			start_date = ?, next_billing_date = ?, category_id = ?, notes = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		sub.Name, sub.Price.String(), string(sub.Currency), string(sub.BillingCycle),
		formatDate(sub.StartDate), formatDate(sub.NextBillingDate), nullableString(sub.CategoryID), sub.Notes,
		sub.UpdatedAt.Unix(), sub.ID, sub.OwnerID,
	)
	if err != nil {
		return writeErr("update_subscription", sub.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("update_subscription", sub.ID)
	}
	return s.reloadAndPublish(ctx, sub, realtime.OpUpdate)
}

// DeleteSubscription removes ownerID's subscription id.
func (s *Store) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return writeErr("delete_subscription", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("delete_subscription", id)
	}
	s.publish(TableSubscriptions, realtime.OpDelete, id, ownerID, nil)
	return nil
}

// GetSubscription returns ownerID's subscription id, or (nil, nil).
func (s *Store) GetSubscription(ctx context.Context, ownerID, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, subscriptionSelect+` WHERE s.id = ? AND s.owner_id = ?`, id, ownerID)
	sub, err := scanSubscription(row)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns ownerID's subscriptions ordered by next billing
// date.
func (s *Store) ListSubscriptions(ctx context.Context, ownerID string) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		subscriptionSelect+` WHERE s.owner_id = ? ORDER BY s.next_billing_date ASC, s.name ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// CountByCategory returns how many of ownerID's subscriptions reference
// categoryID.
func (s *Store) CountByCategory(ctx context.Context, ownerID, categoryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE owner_id = ? AND category_id = ?`, ownerID, categoryID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscriptions by category: %w", err)
	}
	return n, nil
}

func (s *Store) reloadAndPublish(ctx context.Context, sub *Subscription, op realtime.Op) error {
	stored, err := s.GetSubscription(ctx, sub.OwnerID, sub.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		*sub = *stored
	}
	s.publish(TableSubscriptions, op, sub.ID, sub.OwnerID, *sub)
	return nil
}

func scanSubscription(sc scanner) (*Subscription, error) {
	var sub Subscription
	var price, code, cycle, start, next string
	var categoryID sql.NullString
	var createdAt, updatedAt int64

	if err := sc.Scan(
		&sub.ID, &sub.OwnerID, &sub.Name, &price, &code, &cycle,
		&start, &next, &categoryID, &sub.Notes,
		&createdAt, &updatedAt, &sub.CategoryName,
	); err != nil {
		return nil, err
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("subscription %s has invalid price %q: %w", sub.ID, price, err)
	}
	sub.Price = p
	c, err := currency.ParseCode(code)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	sub.Currency = c
	sub.BillingCycle = billing.ParseCycle(cycle)
	if sub.StartDate, err = parseDate(start); err != nil {
		return nil, fmt.Errorf("subscription %s start date: %w", sub.ID, err)
	}
	if sub.NextBillingDate, err = parseDate(next); err != nil {
		return nil, fmt.Errorf("subscription %s next billing date: %w", sub.ID, err)
	}
	if categoryID.Valid {
		id := categoryID.String
		sub.CategoryID = &id
	}
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
