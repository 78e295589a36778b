package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcourtman/subtracker/internal/realtime"
)

// UpsertUser records a sign-in. The first call fixes CreatedAt; later calls
// only refresh email and last login.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.LastLoginAt = &now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at, last_login_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END,
			last_login_at = excluded.last_login_at`,
		u.ID, u.Email, u.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return writeErr("upsert_user", u.ID, err)
	}

	stored, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		*u = *stored
	}
	s.publish(TableUsers, realtime.OpUpdate, u.ID, u.ID, *u)
	return nil
}

// GetUser retrieves a user by ID. It returns (nil, nil) when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt int64
	var lastLogin sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at, last_login_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &createdAt, &lastLogin)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.LastLoginAt = fromNullableUnix(lastLogin)
	return &u, nil
}
