package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/realtime"
)

func (s *Store) seedDefaultCategories() error {
	now := s.now().UTC().Unix()
	for _, c := range DefaultCategories {
		if _, err := s.db.Exec(`
			INSERT OR IGNORE INTO categories (id, owner_id, name, is_default, created_at)
			VALUES (?, '', ?, 1, ?)`, c.ID, c.Name, now); err != nil {
			return fmt.Errorf("seed category %s: %w", c.ID, err)
		}
	}
	return nil
}

// ListCategories returns the default categories followed by ownerID's own,
// each ordered by name.
func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, is_default, created_at FROM categories
		WHERE is_default = 1 OR owner_id = ?
		ORDER BY is_default DESC, name ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []*Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCategory returns a category visible to ownerID, or (nil, nil).
func (s *Store) GetCategory(ctx context.Context, ownerID, id string) (*Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, is_default, created_at FROM categories
		WHERE id = ? AND (is_default = 1 OR owner_id = ?)`, id, ownerID)
	c, err := scanCategory(row)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// CreateCategory inserts a user category. The ID is generated when empty.
// Name collisions within the owner's scope return a conflict error.
func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	if c == nil {
		return fmt.Errorf("category is nil")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.IsDefault = false
	c.CreatedAt = s.now().UTC()

	var clash int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE name = ? AND (is_default = 1 OR owner_id = ?)`,
		c.Name, c.OwnerID,
	).Scan(&clash); err != nil {
		return fmt.Errorf("check category name: %w", err)
	}
	if clash > 0 {
		return apperrors.New(apperrors.ErrorTypeConflict, "create_category", c.Name, apperrors.ErrConflict)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, owner_id, name, is_default, created_at)
		VALUES (?, ?, ?, 0, ?)`, c.ID, c.OwnerID, c.Name, c.CreatedAt.Unix())
	if err != nil {
		return writeErr("create_category", c.Name, err)
	}
	s.publish(TableCategories, realtime.OpInsert, c.ID, c.OwnerID, *c)
	return nil
}

// DeleteCategory removes ownerID's category id after detaching every
// subscription that references it, in one transaction. It returns the IDs
// of the detached subscriptions. Default categories cannot be deleted.
func (s *Store) DeleteCategory(ctx context.Context, ownerID, id string) ([]string, error) {
	existing, err := s.GetCategory(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, notFound("delete_category", id)
	}
	if existing.IsDefault {
		return nil, apperrors.New(apperrors.ErrorTypeForbidden, "delete_category", id, apperrors.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.WrapTransient("delete_category", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM subscriptions WHERE category_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("find category references: %w", err)
	}
	var detached []string
	for rows.Next() {
		var subID string
		if err := rows.Scan(&subID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category reference: %w", err)
		}
		detached = append(detached, subID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find category references: %w", err)
	}

	now := s.now().UTC().Unix()
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET category_id = NULL, updated_at = ? WHERE category_id = ?`, now, id,
	); err != nil {
		return nil, writeErr("detach_category", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ? AND owner_id = ? AND is_default = 0`, id, ownerID,
	); err != nil {
		return nil, writeErr("delete_category", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.WrapTransient("delete_category", id, err)
	}

	for _, subID := range detached {
		if sub, err := s.GetSubscription(ctx, ownerID, subID); err == nil && sub != nil {
			s.publish(TableSubscriptions, realtime.OpUpdate, sub.ID, sub.OwnerID, *sub)
		}
	}
	s.publish(TableCategories, realtime.OpDelete, id, ownerID, nil)
	return detached, nil
}

func scanCategory(sc scanner) (*Category, error) {
	var c Category
	var isDefault int
	var createdAt int64
	if err := sc.Scan(&c.ID, &c.OwnerID, &c.Name, &isDefault, &createdAt); err != nil {
		return nil, err
	}
	c.IsDefault = isDefault != 0
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}
