package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/internal/realtime"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/internal/subscriptions"
	"github.com/rcourtman/subtracker/pkg/entitlement"
	"github.com/rcourtman/subtracker/pkg/spend"
)

// Realtime message types pushed alongside raw changes.
const (
	MsgSpend  = "spend"
	MsgAccess = "access"
)

type realtimeSnapshot struct {
	Subscriptions []*store.Subscription `json:"subscriptions"`
	Categories    []*store.Category     `json:"categories"`
	Access        entitlement.Summary   `json:"access"`
	Spend         spend.Result          `json:"spend"`
}

// NewRealtimeHub builds the websocket hub streaming each caller's changes.
// Every connection keeps its own spend tracker so a burst of edits only
// delivers the totals of the latest one.
func NewRealtimeHub(deps *Deps, broker *realtime.Broker, allowedOrigins []string) *realtime.Hub {
	return realtime.NewHub(broker, realtime.HubConfig{
		AllowedOrigins: allowedOrigins,
		Owner: func(r *http.Request) string {
			return auth.UserID(r.Context())
		},
		Snapshot: func(ctx context.Context, ownerID string) (any, error) {
			return deps.snapshot(ctx, ownerID)
		},
		Attach: func(ownerID string, send func(realtime.Message)) realtime.ClientHooks {
			tracker := spend.NewTracker(deps.Aggregator, spend.GroupCategory, func(s spend.Snapshot) {
				send(realtime.Message{Type: MsgSpend, Data: s})
			})
			return realtime.ClientHooks{
				OnChange: func(ctx context.Context, c realtime.Change) {
					deps.onChange(ctx, ownerID, c, tracker, send)
				},
				Detach: tracker.Cancel,
			}
		},
	})
}

func (d *Deps) snapshot(ctx context.Context, ownerID string) (realtimeSnapshot, error) {
	subs, err := d.Subscriptions.List(ctx, ownerID)
	if err != nil {
		return realtimeSnapshot{}, err
	}
	cats, err := d.Subscriptions.ListCategories(ctx, ownerID)
	if err != nil {
		return realtimeSnapshot{}, err
	}
	access, err := d.access(ctx, ownerID)
	if err != nil {
		return realtimeSnapshot{}, err
	}
	res, err := d.Aggregator.Aggregate(ctx, subscriptions.ToSpend(subs), d.displayCurrency(), spend.GroupCategory)
	if err != nil {
		return realtimeSnapshot{}, err
	}
	if subs == nil {
		subs = []*store.Subscription{}
	}
	return realtimeSnapshot{
		Subscriptions: subs,
		Categories:    cats,
		Access:        entitlement.Summarize(access, d.now()),
		Spend:         res,
	}, nil
}

func (d *Deps) onChange(ctx context.Context, ownerID string, c realtime.Change, tracker *spend.Tracker, send func(realtime.Message)) {
	switch c.Table {
	case store.TableSubscriptions, store.TableCategories:
		subs, err := d.ownerSpend(ctx, ownerID)
		if err != nil {
			log.Warn().Err(err).Str("owner", ownerID).Msg("Failed to reload subscriptions for spend update")
			return
		}
		tracker.Recompute(ctx, subs, d.displayCurrency())
	case store.TableAccess:
		if a, ok := c.Row.(entitlement.UserAccess); ok {
			send(realtime.Message{Type: MsgAccess, Data: entitlement.Summarize(&a, d.now())})
		}
	}
}
