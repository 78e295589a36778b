package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var layoutTemplate = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">{{.Title}}</h1>
{{range .Paragraphs}}<p style="margin: 0 0 16px; color: #666; font-size: 15px; line-height: 1.5;">{{.}}</p>
{{end}}{{if .ActionURL}}<a href="{{.ActionURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">{{.ActionLabel}}</a>{{end}}
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

type layoutData struct {
	Title       string
	Paragraphs  []string
	ActionURL   string
	ActionLabel string
}

// TrialStartedData holds template data for the trial welcome email.
type TrialStartedData struct {
	EndsAt       time.Time
	DashboardURL string
}

// PremiumActivatedData holds template data for the premium confirmation.
type PremiumActivatedData struct {
	RenewsAt     time.Time
	DashboardURL string
}

const displayDate = "January 2, 2006"

// RenderTrialStartedEmail renders the trial welcome email.
func RenderTrialStartedEmail(data TrialStartedData) (html, text string, err error) {
	ends := data.EndsAt.UTC().Format(displayDate)
	paragraphs := []string{
		"Your 7-day free trial has started. Spending analytics, the renewal calendar and the cost timeline are unlocked.",
		fmt.Sprintf("Your trial ends on %s.", ends),
	}
	html, err = render(layoutData{
		Title:       "Welcome to Subtracker",
		Paragraphs:  paragraphs,
		ActionURL:   data.DashboardURL,
		ActionLabel: "Open dashboard",
	})
	if err != nil {
		return "", "", fmt.Errorf("render trial started template: %w", err)
	}
	text = fmt.Sprintf("Welcome to Subtracker\n\n%s\n%s\n\n%s", paragraphs[0], paragraphs[1], data.DashboardURL)
	return html, text, nil
}

// RenderPremiumActivatedEmail renders the premium confirmation email.
func RenderPremiumActivatedEmail(data PremiumActivatedData) (html, text string, err error) {
	renews := data.RenewsAt.UTC().Format(displayDate)
	paragraphs := []string{
		"Thanks for upgrading. Premium analytics are now active on your account.",
		fmt.Sprintf("Your subscription runs until %s.", renews),
	}
	html, err = render(layoutData{
		Title:       "Premium activated",
		Paragraphs:  paragraphs,
		ActionURL:   data.DashboardURL,
		ActionLabel: "View analytics",
	})
	if err != nil {
		return "", "", fmt.Errorf("render premium activated template: %w", err)
	}
	text = fmt.Sprintf("Premium activated\n\n%s\n%s\n\n%s", paragraphs[0], paragraphs[1], data.DashboardURL)
	return html, text, nil
}

func render(data layoutData) (string, error) {
	var buf bytes.Buffer
	if err := layoutTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
