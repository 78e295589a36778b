// Package currency validates ISO 4217 codes, caches exchange-rate tables and
// converts amounts between supported currencies.
package currency

import (
	"slices"
	"strings"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

// Code is an ISO 4217 currency code from the supported set.
type Code string

const (
	USD Code = "USD"
	EUR Code = "EUR"
	GBP Code = "GBP"
	JPY Code = "JPY"
	CAD Code = "CAD"
	AUD Code = "AUD"
	CHF Code = "CHF"
	CNY Code = "CNY"
	INR Code = "INR"
	BRL Code = "BRL"
	MXN Code = "MXN"
	SEK Code = "SEK"
	NOK Code = "NOK"
	DKK Code = "DKK"
	PLN Code = "PLN"
	NZD Code = "NZD"
	SGD Code = "SGD"
	HKD Code = "HKD"
	KRW Code = "KRW"
	ZAR Code = "ZAR"
)

var supported = map[Code]struct {
	name       string
	minorUnits int32
}{
	USD: {"US Dollar", 2},
	EUR: {"Euro", 2},
	GBP: {"British Pound", 2},
	JPY: {"Japanese Yen", 0},
	CAD: {"Canadian Dollar", 2},
	AUD: {"Australian Dollar", 2},
	CHF: {"Swiss Franc", 2},
	CNY: {"Chinese Yuan", 2},
	INR: {"Indian Rupee", 2},
	BRL: {"Brazilian Real", 2},
	MXN: {"Mexican Peso", 2},
	SEK: {"Swedish Krona", 2},
	NOK: {"Norwegian Krone", 2},
	DKK: {"Danish Krone", 2},
	PLN: {"Polish Zloty", 2},
	NZD: {"New Zealand Dollar", 2},
	SGD: {"Singapore Dollar", 2},
	HKD: {"Hong Kong Dollar", 2},
	KRW: {"South Korean Won", 0},
	ZAR: {"South African Rand", 2},
}

// ParseCode normalizes raw and rejects codes outside the supported set.
func ParseCode(raw string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(raw)))
	if code == "" {
		return "", apperrors.Invalid("currency", "currency is required")
	}
	if _, ok := supported[code]; !ok {
		return "", apperrors.Invalid("currency", "unsupported currency %q", raw)
	}
	return code, nil
}

// Valid reports whether c belongs to the supported set.
func (c Code) Valid() bool {
	_, ok := supported[c]
	return ok
}

// Name returns the display name, or the code itself when unknown.
func (c Code) Name() string {
	if meta, ok := supported[c]; ok {
		return meta.name
	}
	return string(c)
}

// MinorUnits is the number of fraction digits prices in c may carry.
func (c Code) MinorUnits() int32 {
	if meta, ok := supported[c]; ok {
		return meta.minorUnits
	}
	return 2
}

// Supported returns all supported codes in sorted order.
func Supported() []Code {
	codes := make([]Code, 0, len(supported))
	for code := range supported {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}
