package reporting

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/go-pdf/fpdf"
)

// Color scheme - dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorSecondary   = [3]int{52, 152, 219}  // Bright blue
	colorWarning     = [3]int{241, 196, 15}  // Yellow
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorBackground  = [3]int{248, 249, 250} // Light gray bg
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorGridLine    = [3]int{220, 220, 220} // Chart grid
)

const maxPDFRows = 200

// PDFGenerator handles PDF report generation.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate creates a PDF report from the provided data.
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle(data.Title, false)

	g.writeCoverPage(pdf, data)

	pdf.AddPage()
	g.addPageHeader(pdf, data, "Monthly Spend")
	g.writeSummarySection(pdf, data)

	if len(data.Timeline) > 0 {
		pdf.AddPage()
		g.addPageHeader(pdf, data, "Projected Charges")
		g.writeTimelineSection(pdf, data)
	}

	pdf.AddPage()
	g.addPageHeader(pdf, data, "Subscriptions")
	g.writeSubscriptionsSection(pdf, data)

	g.addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func setText(pdf *fpdf.Fpdf, c [3]int) { pdf.SetTextColor(c[0], c[1], c[2]) }
func setFill(pdf *fpdf.Fpdf, c [3]int) { pdf.SetFillColor(c[0], c[1], c[2]) }
func setDraw(pdf *fpdf.Fpdf, c [3]int) { pdf.SetDrawColor(c[0], c[1], c[2]) }

func (g *PDFGenerator) writeCoverPage(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()

	setFill(pdf, colorPrimary)
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(50)
	pdf.SetFont("Arial", "B", 32)
	setText(pdf, colorPrimary)
	pdf.CellFormat(0, 15, "SUBTRACKER", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 8, "Subscription Spend", "", 1, "C", false, 0, "")

	pdf.SetY(100)
	pdf.SetFont("Arial", "B", 28)
	setText(pdf, colorTextDark)
	pdf.CellFormat(0, 12, data.Title, "", 1, "C", false, 0, "")

	pdf.SetY(130)
	boxX := 40.0
	boxWidth := pageWidth - 80
	setFill(pdf, colorBackground)
	setDraw(pdf, colorGridLine)
	pdf.RoundedRect(boxX, pdf.GetY(), boxWidth, 40, 3, "1234", "FD")

	rows := [][2]string{
		{"Monthly total", formatMoney(data.Summary.Total, data.Summary.Currency)},
		{"Subscriptions", strconv.Itoa(len(data.Lines))},
		{"Generated", data.GeneratedAt.Format("January 2, 2006")},
	}
	y := pdf.GetY() + 6
	for _, r := range rows {
		pdf.SetXY(boxX+8, y)
		pdf.SetFont("Arial", "", 11)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(50, 8, r[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "B", 11)
		setText(pdf, colorTextDark)
		pdf.CellFormat(boxWidth-66, 8, r[1], "", 0, "R", false, 0, "")
		y += 9
	}
}

// addPageHeader adds a consistent header to content pages.
func (g *PDFGenerator) addPageHeader(pdf *fpdf.Fpdf, data *ReportData, section string) {
	pageWidth, _ := pdf.GetPageSize()

	setDraw(pdf, colorPrimary)
	pdf.SetLineWidth(0.5)
	pdf.Line(20, 15, pageWidth-20, 15)

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 9)
	setText(pdf, colorPrimary)
	pdf.CellFormat(0, 5, "SUBTRACKER SPEND REPORT", "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 5, data.Owner, "", 1, "R", false, 0, "")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 18)
	setText(pdf, colorTextDark)
	pdf.CellFormat(0, 10, section, "", 1, "L", false, 0, "")
	pdf.Ln(5)
}

// writeSummarySection draws one horizontal bar per category.
func (g *PDFGenerator) writeSummarySection(pdf *fpdf.Fpdf, data *ReportData) {
	sum := data.Summary
	pdf.SetFont("Arial", "", 10)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 6, fmt.Sprintf("Monthly equivalent in %s across %d subscriptions", sum.Currency, sum.Count), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	if len(sum.Groups) == 0 {
		pdf.SetFont("Arial", "I", 11)
		pdf.CellFormat(0, 10, "No subscriptions yet.", "", 1, "L", false, 0, "")
		return
	}

	names := sortedGroups(sum.Groups)
	peak := sum.Groups[names[0]]
	labelWidth, valueWidth, barMax := 45.0, 35.0, 90.0

	for _, name := range names {
		v := sum.Groups[name]
		y := pdf.GetY()
		pdf.SetFont("Arial", "", 10)
		setText(pdf, colorTextDark)
		pdf.CellFormat(labelWidth, 8, truncate(name, 24), "", 0, "L", false, 0, "")

		width := 0.0
		if peak > 0 {
			width = barMax * v / peak
		}
		setFill(pdf, colorSecondary)
		pdf.Rect(20+labelWidth, y+1.5, width, 5, "F")

		pdf.SetX(20 + labelWidth + barMax)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(valueWidth, 8, formatMoney(v, sum.Currency), "", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	setDraw(pdf, colorGridLine)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 12)
	setText(pdf, colorPrimary)
	pdf.CellFormat(labelWidth+barMax, 8, "Total", "", 0, "L", false, 0, "")
	pdf.CellFormat(valueWidth, 8, formatMoney(sum.Total, sum.Currency), "", 1, "R", false, 0, "")

	if len(sum.Unconverted) > 0 {
		pdf.Ln(3)
		pdf.SetFont("Arial", "I", 9)
		setText(pdf, colorWarning)
		codes := make([]string, len(sum.Unconverted))
		for i, c := range sum.Unconverted {
			codes[i] = string(c)
		}
		pdf.MultiCell(0, 5, fmt.Sprintf("No exchange rate was available for %v; those amounts are included unconverted.", codes), "", "L", false)
	}
}

// writeTimelineSection draws a column chart of projected monthly charges.
func (g *PDFGenerator) writeTimelineSection(pdf *fpdf.Fpdf, data *ReportData) {
	x, y, width, height := 25.0, pdf.GetY()+5, 160.0, 80.0
	peak := 0.0
	for _, m := range data.Timeline {
		if m.Total > peak {
			peak = m.Total
		}
	}

	setDraw(pdf, colorGridLine)
	pdf.SetLineWidth(0.2)
	for i := 0; i <= 4; i++ {
		ly := y + height - height*float64(i)/4
		pdf.Line(x, ly, x+width, ly)
	}

	slot := width / float64(len(data.Timeline))
	for i, m := range data.Timeline {
		h := 0.0
		if peak > 0 {
			h = height * m.Total / peak
		}
		if m.Partial {
			setFill(pdf, colorWarning)
		} else {
			setFill(pdf, colorSecondary)
		}
		pdf.Rect(x+float64(i)*slot+slot*0.15, y+height-h, slot*0.7, h, "F")
	}

	pdf.SetY(y + height + 4)
	pdf.SetFont("Arial", "", 8)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 5, fmt.Sprintf("%s to %s, peak %s", data.Timeline[0].Month, data.Timeline[len(data.Timeline)-1].Month, formatMoney(peak, data.Summary.Currency)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	g.tableHeader(pdf, []string{"Month", "Charges", "Total"}, []float64{50, 40, 80})
	pdf.SetFont("Arial", "", 8)
	fill := false
	for _, m := range data.Timeline {
		setFill(pdf, colorTableAlt)
		setText(pdf, colorTextDark)
		total := formatMoney(m.Total, data.Summary.Currency)
		if m.Partial {
			total += " *"
		}
		pdf.CellFormat(50, 6, m.Month, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(40, 6, strconv.Itoa(m.Charges), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(80, 6, total, "1", 1, "R", fill, 0, "")
		fill = !fill
	}
}

func (g *PDFGenerator) writeSubscriptionsSection(pdf *fpdf.Fpdf, data *ReportData) {
	if len(data.Lines) == 0 {
		pdf.SetFont("Arial", "I", 11)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(0, 10, "No subscriptions yet.", "", 1, "L", false, 0, "")
		return
	}

	headers := []string{"Name", "Category", "Price", "Cycle", "Monthly", "Next Billing"}
	widths := []float64{42, 30, 28, 20, 28, 22}
	g.tableHeader(pdf, headers, widths)

	lines := data.Lines
	if len(lines) > maxPDFRows {
		lines = lines[:maxPDFRows]
	}
	pdf.SetFont("Arial", "", 8)
	fill := false
	for _, l := range lines {
		if pdf.GetY() > 260 {
			pdf.AddPage()
			g.addPageHeader(pdf, data, "Subscriptions (continued)")
			g.tableHeader(pdf, headers, widths)
			pdf.SetFont("Arial", "", 8)
		}
		setFill(pdf, colorTableAlt)
		setText(pdf, colorTextDark)
		cells := []string{
			truncate(l.Name, 26),
			truncate(l.Category, 18),
			formatMoney(l.Price, l.Currency),
			string(l.Cycle),
			formatMoney(l.Monthly, l.Currency),
			formatDate(l.NextBilling),
		}
		for i, c := range cells {
			align := "L"
			if i == 2 || i == 4 {
				align = "R"
			}
			ln := 0
			if i == len(cells)-1 {
				ln = 1
			}
			pdf.CellFormat(widths[i], 6, c, "1", ln, align, fill, 0, "")
		}
		fill = !fill
	}
	if len(data.Lines) > maxPDFRows {
		pdf.Ln(3)
		pdf.SetFont("Arial", "I", 8)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(0, 5, fmt.Sprintf("Showing %d of %d subscriptions. Export as CSV for the complete list.", maxPDFRows, len(data.Lines)), "", 1, "L", false, 0, "")
	}
}

func (g *PDFGenerator) tableHeader(pdf *fpdf.Fpdf, headers []string, widths []float64) {
	setFill(pdf, colorTableHeader)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 8)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

// addPageNumbers adds page numbers to all pages except the first (cover).
func (g *PDFGenerator) addPageNumbers(pdf *fpdf.Fpdf) {
	// Disable auto page break while adding footers to prevent creating new pages
	pdf.SetAutoPageBreak(false, 0)

	totalPages := pdf.PageCount()
	for i := 2; i <= totalPages; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i-1, totalPages-1), "", 0, "C", false, 0, "")

		setDraw(pdf, colorGridLine)
		pdf.SetLineWidth(0.3)
		pdf.Line(20, pageHeight-20, pageWidth-20, pageHeight-20)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}
