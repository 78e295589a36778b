package subscriptions

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/pkg/billing"
	"github.com/rcourtman/subtracker/pkg/currency"
)

const (
	dateLayout       = "2006-01-02"
	maxNameLength    = 100
	maxNotesLength   = 1000
	maxCategoryName  = 50
	maxPriceIntegral = 1_000_000
)

// Amount is a price as entered by the user. It accepts a JSON number or a
// JSON string so that decimal precision survives decoding.
type Amount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*a = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = Amount(str)
	default:
		*a = Amount(s)
	}
	return nil
}

// Input is the user-editable part of a subscription.
type Input struct {
	Name            string  `json:"name"`
	Price           Amount  `json:"price"`
	Currency        string  `json:"currency"`
	BillingCycle    string  `json:"billing_cycle"`
	StartDate       string  `json:"start_date"`
	NextBillingDate string  `json:"next_billing_date,omitempty"`
	CategoryID      *string `json:"category_id,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

// validated is an Input that passed field checks.
type validated struct {
	name       string
	price      decimal.Decimal
	currency   currency.Code
	cycle      billing.Cycle
	start      time.Time
	next       time.Time
	categoryID *string
	notes      string
}

// validate checks every field and returns the first failure as a
// field-level validation error. today anchors derived billing dates.
func (in Input) validate(today time.Time) (validated, error) {
	var v validated

	v.name = strings.TrimSpace(in.Name)
	if v.name == "" {
		return v, apperrors.Invalid("name", "name is required")
	}
	if utf8.RuneCountInString(v.name) > maxNameLength {
		return v, apperrors.Invalid("name", "name must be at most %d characters", maxNameLength)
	}

	code, err := currency.ParseCode(in.Currency)
	if err != nil {
		return v, err
	}
	v.currency = code

	price, err := ParsePrice(string(in.Price), code)
	if err != nil {
		return v, err
	}
	v.price = price

	v.cycle = billing.ParseCycle(in.BillingCycle)

	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return v, err
	}
	v.start = start

	if strings.TrimSpace(in.NextBillingDate) == "" {
		v.next = billing.NextBillingOnOrAfter(start, today, v.cycle)
	} else {
		next, err := parseDate("next_billing_date", in.NextBillingDate)
		if err != nil {
			return v, err
		}
		if next.Before(start) {
			return v, apperrors.Invalid("next_billing_date", "next billing date cannot be before the start date")
		}
		v.next = next
	}

	if in.CategoryID != nil {
		if id := strings.TrimSpace(*in.CategoryID); id != "" {
			v.categoryID = &id
		}
	}

	v.notes = strings.TrimSpace(in.Notes)
	if utf8.RuneCountInString(v.notes) > maxNotesLength {
		return v, apperrors.Invalid("notes", "notes must be at most %d characters", maxNotesLength)
	}
	return v, nil
}

// ParsePrice parses raw as a positive amount with no more fraction digits
// than code allows.
func ParsePrice(raw string, code currency.Code) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperrors.Invalid("price", "price is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.Invalid("price", "price must be a number")
	}
	if !d.IsPositive() {
		return decimal.Zero, apperrors.Invalid("price", "price must be greater than zero")
	}
	units := code.MinorUnits()
	if !d.Equal(d.Round(units)) {
		if units == 0 {
			return decimal.Zero, apperrors.Invalid("price", "%s prices cannot have decimals", code)
		}
		return decimal.Zero, apperrors.Invalid("price", "price can have at most %d decimal places", units)
	}
	if d.GreaterThanOrEqual(decimal.NewFromInt(maxPriceIntegral)) {
		return decimal.Zero, apperrors.Invalid("price", "price is too large")
	}
	return d.Round(units), nil
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperrors.Invalid(field, "date is required")
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.Invalid(field, "date must be formatted as YYYY-MM-DD")
	}
	return t, nil
}

func validateCategoryName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperrors.Invalid("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxCategoryName {
		return "", apperrors.Invalid("name", "name must be at most %d characters", maxCategoryName)
	}
	return name, nil
}
