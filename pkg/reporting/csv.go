package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// CSVGenerator handles CSV report generation.
type CSVGenerator struct{}

// NewCSVGenerator creates a new CSV generator.
func NewCSVGenerator() *CSVGenerator {
	return &CSVGenerator{}
}

// Generate creates a CSV report from the provided data.
func (g *CSVGenerator) Generate(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := g.writeHeader(w, data); err != nil {
		return nil, fmt.Errorf("write CSV header section: %w", err)
	}
	if err := g.writeSummary(w, data); err != nil {
		return nil, fmt.Errorf("write CSV summary section: %w", err)
	}
	if err := g.writeSubscriptions(w, data); err != nil {
		return nil, fmt.Errorf("write CSV subscriptions section: %w", err)
	}
	if err := g.writeTimeline(w, data); err != nil {
		return nil, fmt.Errorf("write CSV timeline section: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *CSVGenerator) writeHeader(w *csv.Writer, data *ReportData) error {
	headers := [][]string{
		{"# Subtracker Spend Report"},
		{"# Title:", data.Title},
		{"# Owner:", data.Owner},
		{"# Currency:", string(data.Summary.Currency)},
		{"# Generated:", data.GeneratedAt.Format(time.RFC3339)},
		{"# Subscriptions:", strconv.Itoa(len(data.Lines))},
		{""},
	}
	for _, row := range headers {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write header row %q: %w", row[0], err)
		}
	}
	return nil
}

func (g *CSVGenerator) writeSummary(w *csv.Writer, data *ReportData) error {
	code := data.Summary.Currency
	rows := [][]string{
		{"# SUMMARY"},
		{"Category", "Monthly", "Currency"},
	}
	for _, name := range sortedGroups(data.Summary.Groups) {
		rows = append(rows, []string{name, amount(data.Summary.Groups[name], code.MinorUnits()), string(code)})
	}
	rows = append(rows, []string{"Total", amount(data.Summary.Total, code.MinorUnits()), string(code)})
	for _, c := range data.Summary.Unconverted {
		rows = append(rows, []string{"# Unconverted:", string(c)})
	}
	rows = append(rows, []string{""})

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write summary row %q: %w", row[0], err)
		}
	}
	return nil
}

func (g *CSVGenerator) writeSubscriptions(w *csv.Writer, data *ReportData) error {
	if err := w.Write([]string{"# SUBSCRIPTIONS"}); err != nil {
		return fmt.Errorf("write subscriptions section heading: %w", err)
	}
	if err := w.Write([]string{"Name", "Category", "Price", "Currency", "Billing Cycle", "Monthly Equivalent", "Next Billing"}); err != nil {
		return fmt.Errorf("write subscription column headers: %w", err)
	}
	for _, l := range data.Lines {
		units := l.Currency.MinorUnits()
		row := []string{
			l.Name,
			l.Category,
			amount(l.Price, units),
			string(l.Currency),
			string(l.Cycle),
			amount(l.Monthly, units),
			formatDate(l.NextBilling),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write subscription row %q: %w", l.Name, err)
		}
	}
	return w.Write([]string{""})
}

func (g *CSVGenerator) writeTimeline(w *csv.Writer, data *ReportData) error {
	if len(data.Timeline) == 0 {
		return nil
	}
	if err := w.Write([]string{"# TIMELINE"}); err != nil {
		return fmt.Errorf("write timeline section heading: %w", err)
	}
	if err := w.Write([]string{"Month", "Total", "Charges", "Partial"}); err != nil {
		return fmt.Errorf("write timeline column headers: %w", err)
	}
	units := data.Summary.Currency.MinorUnits()
	for _, m := range data.Timeline {
		row := []string{m.Month, amount(m.Total, units), strconv.Itoa(m.Charges), strconv.FormatBool(m.Partial)}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write timeline row %s: %w", m.Month, err)
		}
	}
	return nil
}

func amount(v float64, units int32) string {
	return strconv.FormatFloat(v, 'f', int(units), 64)
}
