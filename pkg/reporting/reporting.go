package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
	"github.com/rcourtman/subtracker/pkg/spend"
)

// ReportFormat represents the output format of a report
type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

// ParseFormat accepts "csv" or "pdf" in any case.
func ParseFormat(raw string) (ReportFormat, error) {
	switch f := ReportFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", raw)
	}
}

// ContentType returns the MIME type served for f.
func (f ReportFormat) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// ReportData is everything a spend report renders.
type ReportData struct {
	Title       string
	Owner       string
	GeneratedAt time.Time
	Summary     spend.Result
	Lines       []Line
	Timeline    []spend.MonthTotal
}

// Line is one subscription row. Amounts stay in the subscription's own
// currency; the summary carries the converted totals.
type Line struct {
	Name        string
	Category    string
	Price       float64
	Currency    currency.Code
	Cycle       billing.Cycle
	Monthly     float64
	NextBilling time.Time
}

// Generator renders a report.
type Generator interface {
	Generate(data *ReportData) ([]byte, error)
}

// New returns the generator for f.
func New(f ReportFormat) Generator {
	if f == FormatPDF {
		return NewPDFGenerator()
	}
	return NewCSVGenerator()
}

// LinesFrom builds report rows ordered by category then name.
func LinesFrom(subs []spend.Subscription) []Line {
	lines := make([]Line, 0, len(subs))
	for _, s := range subs {
		lines = append(lines, Line{
			Name:        s.Name,
			Category:    categoryLabel(s.Category),
			Price:       s.Price,
			Currency:    s.Currency,
			Cycle:       s.Cycle,
			Monthly:     billing.MonthlyEquivalent(s.Price, s.Cycle),
			NextBilling: s.NextBilling,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Category != lines[j].Category {
			return lines[i].Category < lines[j].Category
		}
		return lines[i].Name < lines[j].Name
	})
	return lines
}

func categoryLabel(name string) string {
	if name == "" {
		return "Uncategorized"
	}
	return name
}

// sortedGroups returns group names by descending amount, ties by name.
func sortedGroups(groups map[string]float64) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if groups[names[i]] != groups[names[j]] {
			return groups[names[i]] > groups[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func formatMoney(amount float64, code currency.Code) string {
	return fmt.Sprintf("%.*f %s", int(code.MinorUnits()), amount, code)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
