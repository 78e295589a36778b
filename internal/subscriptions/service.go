// Package subscriptions validates and applies user edits to subscriptions
// and categories.
package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/pkg/spend"
)

// Store is the persistence the service needs.
type Store interface {
	CreateSubscription(ctx context.Context, sub *store.Subscription) error
	UpdateSubscription(ctx context.Context, sub *store.Subscription) error
	DeleteSubscription(ctx context.Context, ownerID, id string) error
	GetSubscription(ctx context.Context, ownerID, id string) (*store.Subscription, error)
	ListSubscriptions(ctx context.Context, ownerID string) ([]*store.Subscription, error)

	ListCategories(ctx context.Context, ownerID string) ([]*store.Category, error)
	GetCategory(ctx context.Context, ownerID, id string) (*store.Category, error)
	CreateCategory(ctx context.Context, c *store.Category) error
	DeleteCategory(ctx context.Context, ownerID, id string) ([]string, error)
}

// Service applies validated edits for one owner at a time.
type Service struct {
	store Store
	now   func() time.Time
}

// New creates a Service. A nil clock uses time.Now.
func New(st Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, now: now}
}

func (s *Service) today() time.Time {
	n := s.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

// List returns ownerID's subscriptions ordered by next billing date.
func (s *Service) List(ctx context.Context, ownerID string) ([]*store.Subscription, error) {
	return s.store.ListSubscriptions(ctx, ownerID)
}

// Get returns ownerID's subscription id.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*store.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperrors.New(apperrors.ErrorTypeNotFound, "get_subscription", id, apperrors.ErrNotFound)
	}
	return sub, nil
}

// Create validates in and stores a new subscription for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*store.Subscription, error) {
	v, err := s.check(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	sub := &store.Subscription{OwnerID: ownerID}
	v.apply(sub)
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	log.Debug().Str("owner", ownerID).Str("subscription", sub.ID).Msg("Subscription created")
	return sub, nil
}

// Update validates in and replaces ownerID's subscription id.
func (s *Service) Update(ctx context.Context, ownerID, id string, in Input) (*store.Subscription, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	v, err := s.check(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	sub := &store.Subscription{ID: id, OwnerID: ownerID}
	v.apply(sub)
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete removes ownerID's subscription id.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	return s.store.DeleteSubscription(ctx, ownerID, id)
}

func (s *Service) check(ctx context.Context, ownerID string, in Input) (validated, error) {
	v, err := in.validate(s.today())
	if err != nil {
		return v, err
	}
	if v.categoryID != nil {
		cat, err := s.store.GetCategory(ctx, ownerID, *v.categoryID)
		if err != nil {
			return v, err
		}
		if cat == nil {
			return v, apperrors.Invalid("category_id", "category does not exist")
		}
	}
	return v, nil
}

func (v validated) apply(sub *store.Subscription) {
	sub.Name = v.name
	sub.Price = v.price
	sub.Currency = v.currency
	sub.BillingCycle = v.cycle
	sub.StartDate = v.start
	sub.NextBillingDate = v.next
	sub.CategoryID = v.categoryID
	sub.Notes = v.notes
}

// ListCategories returns the default categories followed by ownerID's own.
func (s *Service) ListCategories(ctx context.Context, ownerID string) ([]*store.Category, error) {
	return s.store.ListCategories(ctx, ownerID)
}

// CreateCategory adds a category for ownerID. Names are unique, case
// sensitive, across the defaults and the owner's categories.
func (s *Service) CreateCategory(ctx context.Context, ownerID, name string) (*store.Category, error) {
	name, err := validateCategoryName(name)
	if err != nil {
		return nil, err
	}
	c := &store.Category{OwnerID: ownerID, Name: name}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.Invalid("name", "a category named %q already exists", name)
		}
		return nil, err
	}
	return c, nil
}

// DeleteCategory removes ownerID's category id. Subscriptions that used it
// become uncategorized; their IDs are returned.
func (s *Service) DeleteCategory(ctx context.Context, ownerID, id string) ([]string, error) {
	detached, err := s.store.DeleteCategory(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("owner", ownerID).
		Str("category", id).
		Int("detached", len(detached)).
		Msg("Category deleted")
	return detached, nil
}

// ToSpend converts stored subscriptions to aggregator inputs.
func ToSpend(subs []*store.Subscription) []spend.Subscription {
	out := make([]spend.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		out = append(out, spend.Subscription{
			ID:          sub.ID,
			Name:        sub.Name,
			Price:       sub.Price.InexactFloat64(),
			Currency:    sub.Currency,
			Cycle:       sub.BillingCycle,
			Category:    sub.CategoryName,
			NextBilling: sub.NextBillingDate,
			Start:       sub.StartDate,
		})
	}
	return out
}
