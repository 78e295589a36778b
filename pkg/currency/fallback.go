package currency

import "time"

// fallbackUSDRates are approximate USD-based rates used when the rate API is
// unreachable and nothing has been cached yet.
var fallbackUSDRates = map[Code]float64{
	USD: 1,
	EUR: 0.92,
	GBP: 0.79,
	JPY: 149.5,
	CAD: 1.36,
	AUD: 1.52,
	CHF: 0.88,
	CNY: 7.24,
	INR: 83.1,
	BRL: 4.97,
	MXN: 17.1,
	SEK: 10.4,
	NOK: 10.6,
	DKK: 6.87,
	PLN: 3.98,
	NZD: 1.64,
	SGD: 1.34,
	HKD: 7.82,
	KRW: 1330,
	ZAR: 18.6,
}

// FallbackTable derives a table for base from the static USD rates using
// cross rates. It reports false when base has no static rate.
func FallbackTable(base Code, now time.Time) (RateTable, bool) {
	baseRate, ok := fallbackUSDRates[base]
	if !ok || baseRate <= 0 {
		return RateTable{}, false
	}

	rates := make(map[Code]float64, len(fallbackUSDRates))
	for code, usdRate := range fallbackUSDRates {
		rates[code] = usdRate / baseRate
	}
	return NewRateTable(base, rates, now, SourceFallback), true
}
