package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcourtman/subtracker/internal/realtime"
	"github.com/rcourtman/subtracker/pkg/entitlement"
)

const accessColumns = `user_id, user_type, has_lifetime_access, subscription_status,
	trial_start_date, trial_end_date, subscription_start_date, subscription_end_date,
	created_at, updated_at`

// GetAccess returns the entitlement record for userID, or (nil, nil) when
// none exists.
func (s *Store) GetAccess(ctx context.Context, userID string) (*entitlement.UserAccess, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accessColumns+` FROM user_access WHERE user_id = ?`, userID)
	a, err := scanAccess(row)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get access: %w", err)
	}
	return a, nil
}

// CreateAccess inserts a new entitlement record. An existing record for the
// same user yields a conflict error.
func (s *Store) CreateAccess(ctx context.Context, a entitlement.UserAccess) error {
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO user_access (`+accessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, string(a.UserType), boolToInt(a.HasLifetimeAccess), string(a.SubscriptionStatus),
		nullableUnix(a.TrialStartDate), nullableUnix(a.TrialEndDate),
		nullableUnix(a.SubscriptionStartDate), nullableUnix(a.SubscriptionEndDate),
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return writeErr("create_access", a.UserID, err)
	}
	s.publish(TableAccess, realtime.OpInsert, a.UserID, a.UserID, a)
	return nil
}

// UpdateAccess replaces the mutable fields of an existing record.
func (s *Store) UpdateAccess(ctx context.Context, a entitlement.UserAccess) error {
	a.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_access SET
			user_type = ?, has_lifetime_access = ?, subscription_status = ?,
			trial_start_date = ?, trial_end_date = ?,
			subscription_start_date = ?, subscription_end_date = ?,
			updated_at = ?
		WHERE user_id = ?`,
		string(a.UserType), boolToInt(a.HasLifetimeAccess), string(a.SubscriptionStatus),
		nullableUnix(a.TrialStartDate), nullableUnix(a.TrialEndDate),
		nullableUnix(a.SubscriptionStartDate), nullableUnix(a.SubscriptionEndDate),
		a.UpdatedAt.Unix(), a.UserID,
	)
	if err != nil {
		return writeErr("update_access", a.UserID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFound("update_access", a.UserID)
	}
	s.publish(TableAccess, realtime.OpUpdate, a.UserID, a.UserID, a)
	return nil
}

// ListAccess returns every entitlement record keyed by user ID.
func (s *Store) ListAccess(ctx context.Context) (map[string]entitlement.UserAccess, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accessColumns+` FROM user_access`)
	if err != nil {
		return nil, fmt.Errorf("list access: %w", err)
	}
	defer rows.Close()

	out := make(map[string]entitlement.UserAccess)
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		out[a.UserID] = *a
	}
	return out, rows.Err()
}

// CountAccessByState returns how many records derive to each state at now.
func (s *Store) CountAccessByState(ctx context.Context, now time.Time) (map[entitlement.State]int, error) {
	all, err := s.ListAccess(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[entitlement.State]int)
	for _, a := range all {
		a := a
		counts[entitlement.Derive(&a, now)]++
	}
	return counts, nil
}

func scanAccess(sc scanner) (*entitlement.UserAccess, error) {
	var a entitlement.UserAccess
	var userType, status string
	var lifetime int
	var trialStart, trialEnd, subStart, subEnd sql.NullInt64
	var createdAt, updatedAt int64

	if err := sc.Scan(
		&a.UserID, &userType, &lifetime, &status,
		&trialStart, &trialEnd, &subStart, &subEnd,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	a.UserType = entitlement.UserType(userType)
	a.HasLifetimeAccess = lifetime != 0
	a.SubscriptionStatus = entitlement.Status(status)
	a.TrialStartDate = fromNullableUnix(trialStart)
	a.TrialEndDate = fromNullableUnix(trialEnd)
	a.SubscriptionStartDate = fromNullableUnix(subStart)
	a.SubscriptionEndDate = fromNullableUnix(subEnd)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}
