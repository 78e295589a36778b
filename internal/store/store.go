// Package store persists users, entitlement records, categories and
// subscriptions in SQLite and publishes every mutation as a change event.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/realtime"
)

// Table names used in change events.
const (
	TableUsers         = "users"
	TableAccess        = "user_access"
	TableCategories    = "categories"
	TableSubscriptions = "subscriptions"
	TableWebhookEvents = "webhook_events"
)

// Publisher receives change events for committed writes.
type Publisher interface {
	Publish(c realtime.Change) realtime.Change
}

// Store provides record operations backed by SQLite.
type Store struct {
	db  *sql.DB
	pub Publisher
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithPublisher sets the change publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the database in dir, applies the schema and seeds
// the default categories.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "subtracker.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seedDefaultCategories(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		last_login_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS user_access (
		user_id                 TEXT PRIMARY KEY,
		user_type               TEXT NOT NULL,
		has_lifetime_access     INTEGER NOT NULL DEFAULT 0,
		subscription_status     TEXT NOT NULL DEFAULT 'free',
		trial_start_date        INTEGER,
		trial_end_date          INTEGER,
		subscription_start_date INTEGER,
		subscription_end_date   INTEGER,
		created_at              INTEGER NOT NULL,
		updated_at              INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_owner_name ON categories(owner_id, name);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id                TEXT PRIMARY KEY,
		owner_id          TEXT NOT NULL,
		name              TEXT NOT NULL,
		price             TEXT NOT NULL,
		currency          TEXT NOT NULL,
		billing_cycle     TEXT NOT NULL,
		start_date        TEXT NOT NULL,
		next_billing_date TEXT NOT NULL,
		category_id       TEXT REFERENCES categories(id),
		notes             TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner_id, next_billing_date);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_category ON subscriptions(category_id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id              TEXT PRIMARY KEY,
		stripe_event_id TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		user_id         TEXT NOT NULL DEFAULT '',
		outcome         TEXT NOT NULL DEFAULT '',
		payload         BLOB,
		received_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_stripe_id ON webhook_events(stripe_event_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) publish(table string, op realtime.Op, key, ownerID string, row any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(realtime.Change{
		Table:   table,
		Op:      op,
		Key:     key,
		OwnerID: ownerID,
		Row:     row,
		At:      s.now().UTC(),
	})
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// writeErr classifies a failed write: unique violations become conflicts,
// everything else is treated as transient.
func writeErr(op, subject string, err error) error {
	if isUniqueViolation(err) {
		return apperrors.New(apperrors.ErrorTypeConflict, op, subject, err)
	}
	return apperrors.WrapTransient(op, subject, err)
}

func notFound(op, subject string) error {
	return apperrors.New(apperrors.ErrorTypeNotFound, op, subject, apperrors.ErrNotFound)
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromNullableUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
