package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rcourtman/subtracker/internal/auth"
	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/pkg/reporting"
	"github.com/rcourtman/subtracker/pkg/spend"
)

const defaultTimelineMonths = 12

// HandleCategoryBreakdown returns monthly spend grouped by category.
func HandleCategoryBreakdown(deps *Deps) http.HandlerFunc {
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
		subs, err := deps.ownerSpend(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Aggregator.Aggregate(r.Context(), subs, display, spend.GroupCategory)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type calendarResponse struct {
	Month    string          `json:"month"`
	Renewals []spend.Renewal `json:"renewals"`
}

// HandleCalendar lists the charges due in ?month=YYYY-MM (default: the
// current month).
func HandleCalendar(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		month := spend.MonthStart(deps.now())
		if raw := r.URL.Query().Get("month"); raw != "" {
			parsed, err := time.Parse("2006-01", raw)
			if err != nil {
				writeError(w, r, apperrors.Invalid("month", "month must be formatted YYYY-MM"))
				return
			}
			month = parsed
		}
		subs, err := deps.ownerSpend(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		renewals := spend.Calendar(subs, month)
		if renewals == nil {
			renewals = []spend.Renewal{}
		}
		writeJSON(w, http.StatusOK, calendarResponse{Month: month.Format("2006-01"), Renewals: renewals})
	}
}

func parseMonths(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("months")
	if raw == "" {
		return defaultTimelineMonths, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > spend.MaxTimelineMonths {
		return 0, apperrors.Invalid("months", "months must be between 1 and %d", spend.MaxTimelineMonths)
	}
	return n, nil
}

// HandleTimeline projects converted monthly charges from the current month.
func HandleTimeline(deps *Deps) http.HandlerFunc {
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
		months, err := parseMonths(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		subs, err := deps.ownerSpend(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		timeline, err := deps.Aggregator.Timeline(r.Context(), subs, display, deps.now(), months)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, timeline)
	}
}

// HandleReport exports the caller's spend as a CSV or PDF download.
func HandleReport(deps *Deps, format reporting.ReportFormat) http.HandlerFunc {
	gen := reporting.New(format)
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
		months, err := parseMonths(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := r.Context()
		subs, err := deps.ownerSpend(ctx, auth.UserID(ctx))
		if err != nil {
			writeError(w, r, err)
			return
		}
		now := deps.now()
		summary, err := deps.Aggregator.Aggregate(ctx, subs, display, spend.GroupCategory)
		if err != nil {
			writeError(w, r, err)
			return
		}
		timeline, err := deps.Aggregator.Timeline(ctx, subs, display, now, months)
		if err != nil {
			writeError(w, r, err)
			return
		}

		owner := auth.UserID(ctx)
		if claims, ok := auth.ClaimsFrom(ctx); ok && claims.Email != "" {
			owner = claims.Email
		}
		data, err := gen.Generate(&reporting.ReportData{
			Title:       "Subscription Spend",
			Owner:       owner,
			GeneratedAt: now,
			Summary:     summary,
			Lines:       reporting.LinesFrom(subs),
			Timeline:    timeline,
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("generate %s report: %w", format, err))
			return
		}

		filename := fmt.Sprintf("subscriptions-%s.%s", now.Format("2006-01-02"), format)
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
