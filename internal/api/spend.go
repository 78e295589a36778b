package api

import (
	"context"
	"net/http"

	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/internal/subscriptions"
	"github.com/rcourtman/subtracker/pkg/currency"
	"github.com/rcourtman/subtracker/pkg/spend"
)

// queryCurrency reads ?currency=, falling back to the default display
// currency.
func (d *Deps) queryCurrency(r *http.Request) (currency.Code, error) {
	raw := r.URL.Query().Get("currency")
	if raw == "" {
		return d.displayCurrency(), nil
	}
	return currency.ParseCode(raw)
}

func (d *Deps) ownerSpend(ctx context.Context, ownerID string) ([]spend.Subscription, error) {
	subs, err := d.Subscriptions.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return subscriptions.ToSpend(subs), nil
}

// HandleSpend returns the caller's monthly spend in the requested currency,
// optionally grouped.
func HandleSpend(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		display, err := deps.queryCurrency(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		groupBy, err := spend.ParseGroupBy(r.URL.Query().Get("group_by"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		subs, err := deps.ownerSpend(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Aggregator.Aggregate(r.Context(), subs, display, groupBy)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleRates returns the current rate table for a base currency.
func HandleRates(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		base, err := currency.ParseCode(r.PathValue("base"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		table, err := deps.Rates.Table(r.Context(), base)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, table)
	}
}
