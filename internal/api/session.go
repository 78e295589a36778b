package api

import (
	"net/http"

	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/internal/provisioning"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/pkg/entitlement"
)

type sessionResponse struct {
	User   *store.User         `json:"user"`
	Access entitlement.Summary `json:"access"`
}

// HandleSession records a sign-in and makes sure the caller has an
// entitlement record. The first sign-in fixes the account creation time
// used for legacy classification.
func HandleSession(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok {
			writeErrorMessage(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		user := &store.User{ID: claims.Subject, Email: claims.Email}
		if err := deps.Store.UpsertUser(r.Context(), user); err != nil {
			writeError(w, r, err)
			return
		}

		access, err := deps.Provisioner.EnsureAccessRecord(r.Context(), provisioning.User{
			ID:        user.ID,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			User:   user,
			Access: entitlement.Summarize(access, deps.now()),
		})
	}
}

// HandleAccess returns the caller's derived entitlement state. A caller
// without a record is reported as free.
func HandleAccess(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		access, err := deps.access(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entitlement.Summarize(access, deps.now()))
	}
}

type paywallResponse struct {
	Error       string                `json:"error"`
	State       entitlement.State     `json:"state"`
	ShowPricing bool                  `json:"show_pricing"`
	Trial       entitlement.TrialInfo `json:"trial"`
}

// requireAnalytics rejects callers without analytics access with 402 and
// the fields a client needs to decide whether to show pricing.
func requireAnalytics(deps *Deps, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, err := deps.access(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		now := deps.now()
		if !entitlement.HasAnalyticsAccess(access, now) {
			summary := entitlement.Summarize(access, now)
			writeJSON(w, http.StatusPaymentRequired, paywallResponse{
				Error:       "premium access required",
				State:       summary.State,
				ShowPricing: summary.ShowPricing,
				Trial:       summary.Trial,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
