package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

// DefaultAPIBaseURL is the exchangerate-api v6 endpoint root.
const DefaultAPIBaseURL = "https://v6.exchangerate-api.com/v6"

const fetchBodyLimit = 256 * 1024

// Fetcher retrieves a rate table for a base currency.
type Fetcher interface {
	Fetch(ctx context.Context, base Code) (RateTable, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, base Code) (RateTable, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, base Code) (RateTable, error) {
	return f(ctx, base)
}

// HTTPFetcher fetches rates from an exchangerate-api compatible endpoint:
// GET {baseURL}/{apiKey}/latest/{base}.
type HTTPFetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

type latestResponse struct {
	Result          string             `json:"result"`
	ErrorType       string             `json:"error-type"`
	BaseCode        string             `json:"base_code"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

// NewHTTPFetcher creates a fetcher. A nil client gets a DNS-caching client
// with a 10 second timeout.
func NewHTTPFetcher(baseURL, apiKey string, client *http.Client) *HTTPFetcher {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if client == nil {
		client = NewHTTPClient(&dnscache.Resolver{}, 10*time.Second)
	}
	return &HTTPFetcher{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		now:        time.Now,
	}
}

// Fetch performs one request; it never consults or fills any cache.
func (f *HTTPFetcher) Fetch(ctx context.Context, base Code) (RateTable, error) {
	if !base.Valid() {
		return RateTable{}, apperrors.Invalid("currency", "unsupported currency %q", base)
	}
	if f.apiKey == "" {
		return RateTable{}, apperrors.WrapTransient("fetch_rates", string(base), fmt.Errorf("rate API key not configured"))
	}

	endpoint := fmt.Sprintf("%s/%s/latest/%s", f.baseURL, f.apiKey, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RateTable{}, fmt.Errorf("create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return RateTable{}, apperrors.WrapTransient("fetch_rates", string(base), f.redact(err, base))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return RateTable{}, apperrors.WrapTransient("fetch_rates", string(base), fmt.Errorf("read body: %w", err))
	}

	var payload latestResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return RateTable{}, apperrors.WrapTransient("fetch_rates", string(base),
			fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK || payload.Result != "success" {
		return RateTable{}, apperrors.WrapTransient("fetch_rates", string(base),
			fmt.Errorf("rate API error (HTTP %d): result=%q type=%q", resp.StatusCode, payload.Result, payload.ErrorType))
	}

	rates := make(map[Code]float64, len(payload.ConversionRates))
	for raw, rate := range payload.ConversionRates {
		rates[Code(strings.ToUpper(raw))] = rate
	}
	return NewRateTable(base, rates, f.now(), SourceLive), nil
}

// redact strips the API key from the request URL that *url.Error prints.
func (f *HTTPFetcher) redact(err error, base Code) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = fmt.Sprintf("%s/***/latest/%s", f.baseURL, base)
	}
	return err
}

// NewHTTPClient builds an HTTP client whose dialer resolves hosts through resolver.
func NewHTTPClient(resolver *dnscache.Resolver, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialContextWithCache(resolver)
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// RefreshResolver periodically refreshes resolver until ctx is done.
func RefreshResolver(ctx context.Context, resolver *dnscache.Resolver, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolver.Refresh(true)
			log.Debug().Dur("interval", interval).Msg("DNS cache refreshed")
		}
	}
}

func dialContextWithCache(resolver *dnscache.Resolver) func(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}

		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{
				Err:  "no IP addresses found",
				Name: host,
			}
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}
