package api

import (
	"net/http"

	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/internal/subscriptions"
)

// HandleSubscriptions lists or creates the caller's subscriptions.
func HandleSubscriptions(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := auth.UserID(r.Context())
		switch r.Method {
		case http.MethodGet:
			subs, err := deps.Subscriptions.List(r.Context(), owner)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if subs == nil {
				subs = []*store.Subscription{}
			}
			writeJSON(w, http.StatusOK, subs)
		case http.MethodPost:
			var in subscriptions.Input
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, r, err)
				return
			}
			sub, err := deps.Subscriptions.Create(r.Context(), owner, in)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, sub)
		default:
			methodNotAllowed(w, r)
		}
	}
}

// HandleSubscription reads, replaces or deletes one subscription.
func HandleSubscription(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := auth.UserID(r.Context())
		id := r.PathValue("id")
		switch r.Method {
		case http.MethodGet:
			sub, err := deps.Subscriptions.Get(r.Context(), owner, id)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sub)
		case http.MethodPut:
			var in subscriptions.Input
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, r, err)
				return
			}
			sub, err := deps.Subscriptions.Update(r.Context(), owner, id, in)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sub)
		case http.MethodDelete:
			if err := deps.Subscriptions.Delete(r.Context(), owner, id); err != nil {
				writeError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r)
		}
	}
}

type createCategoryRequest struct {
	Name string `json:"name"`
}

type deleteCategoryResponse struct {
	Deleted  string   `json:"deleted"`
	Detached []string `json:"detached"`
}

// HandleCategories lists the default and caller categories or creates one.
func HandleCategories(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := auth.UserID(r.Context())
		switch r.Method {
		case http.MethodGet:
			cats, err := deps.Subscriptions.ListCategories(r.Context(), owner)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, cats)
		case http.MethodPost:
			var req createCategoryRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err)
				return
			}
			c, err := deps.Subscriptions.CreateCategory(r.Context(), owner, req.Name)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, c)
		default:
			methodNotAllowed(w, r)
		}
	}
}

// HandleCategory deletes one of the caller's categories.
func HandleCategory(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r)
			return
		}
		id := r.PathValue("id")
		detached, err := deps.Subscriptions.DeleteCategory(r.Context(), auth.UserID(r.Context()), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if detached == nil {
			detached = []string{}
		}
		writeJSON(w, http.StatusOK, deleteCategoryResponse{Deleted: id, Detached: detached})
	}
}
