// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcourtman/subtracker/internal/provisioning"
)

// DefaultLegacyCutover is the account creation instant before which users
// are grandfathered with lifetime access.
var DefaultLegacyCutover = provisioning.DefaultLegacyCutover

// Config holds all configuration for the service.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	LogLevel    string
	LogFormat   string
	EnvPath     string

	// Exactly one of JWTSecret or the OIDC settings is set.
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	OIDCIssuer   string
	OIDCJWKSURL  string
	OIDCAudience string

	FXAPIKey   string
	FXBaseURL  string
	FXCacheTTL time.Duration

	LegacyCutover time.Time

	StripeWebhookSecret string
	WebhookRateLimit    int
	WebhookRateWindow   time.Duration

	// TrustedProxies are the networks whose X-Forwarded-For header is used
	// to identify clients for rate limiting.
	TrustedProxies []netip.Prefix

	PostmarkServerToken string
	EmailFrom           string
	AppBaseURL          string

	AllowedOrigins []string
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// UsesOIDC reports whether tokens are verified against an OIDC provider.
func (c *Config) UsesOIDC() bool {
	return c.OIDCIssuer != ""
}

// Load loads configuration from environment variables. A .env file at
// envPath (or ./.env when empty) is loaded first if present; variables
// already set in the environment win.
func Load(envPath string) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}
	// Best-effort .env loading (not required)
	_ = godotenv.Load(envPath)

	port, err := envOrDefaultInt("SUBTRACKER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	ttl, err := envOrDefaultDuration("FX_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	cutover, err := envOrDefaultTime("ACCESS_LEGACY_CUTOVER", DefaultLegacyCutover)
	if err != nil {
		return nil, err
	}
	webhookRate, err := envOrDefaultInt("STRIPE_WEBHOOK_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	webhookWindow, err := envOrDefaultDuration("STRIPE_WEBHOOK_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	proxies, err := envPrefixes("TRUSTED_PROXIES")
	if err != nil {
		return nil, err
	}

	absEnv, err := filepath.Abs(envPath)
	if err != nil {
		absEnv = envPath
	}

	cfg := &Config{
		DataDir:             envOrDefault("SUBTRACKER_DATA_DIR", "./data"),
		BindAddress:         envOrDefault("SUBTRACKER_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		LogLevel:            envOrDefault("SUBTRACKER_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("SUBTRACKER_LOG_FORMAT", "auto"),
		EnvPath:             absEnv,
		JWTSecret:           strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")),
		JWTIssuer:           strings.TrimSpace(os.Getenv("AUTH_JWT_ISSUER")),
		JWTAudience:         strings.TrimSpace(os.Getenv("AUTH_JWT_AUDIENCE")),
		OIDCIssuer:          strings.TrimSpace(os.Getenv("AUTH_OIDC_ISSUER")),
		OIDCJWKSURL:         strings.TrimSpace(os.Getenv("AUTH_OIDC_JWKS_URL")),
		OIDCAudience:        strings.TrimSpace(os.Getenv("AUTH_OIDC_AUDIENCE")),
		FXAPIKey:            strings.TrimSpace(os.Getenv("FX_API_KEY")),
		FXBaseURL:           envOrDefault("FX_BASE_URL", "https://v6.exchangerate-api.com/v6"),
		FXCacheTTL:          ttl,
		LegacyCutover:       cutover,
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		WebhookRateLimit:    webhookRate,
		WebhookRateWindow:   webhookWindow,
		TrustedProxies:      proxies,
		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("EMAIL_FROM", "hello@subtracker.app"),
		AppBaseURL:          envOrDefault("APP_BASE_URL", "http://localhost:5173"),
		AllowedOrigins:      envList("ALLOWED_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	switch {
	case c.JWTSecret == "" && c.OIDCIssuer == "":
		missing = append(missing, "AUTH_JWT_SECRET or AUTH_OIDC_ISSUER")
	case c.OIDCIssuer != "" && c.OIDCJWKSURL == "":
		missing = append(missing, "AUTH_OIDC_JWKS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.JWTSecret != "" && c.OIDCIssuer != "" {
		return fmt.Errorf("AUTH_JWT_SECRET and AUTH_OIDC_ISSUER are mutually exclusive")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SUBTRACKER_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.FXCacheTTL <= 0 {
		return fmt.Errorf("FX_CACHE_TTL must be greater than 0, got %s", c.FXCacheTTL)
	}
	if c.WebhookRateLimit <= 0 {
		return fmt.Errorf("STRIPE_WEBHOOK_RATE_LIMIT must be greater than 0, got %d", c.WebhookRateLimit)
	}
	if c.WebhookRateWindow < time.Second {
		return fmt.Errorf("STRIPE_WEBHOOK_RATE_WINDOW must be at least 1s, got %s", c.WebhookRateWindow)
	}
	switch c.LogFormat {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("SUBTRACKER_LOG_FORMAT must be auto, json or console, got %q", c.LogFormat)
	}

	for key, raw := range map[string]string{
		"FX_BASE_URL":        c.FXBaseURL,
		"APP_BASE_URL":       c.AppBaseURL,
		"AUTH_OIDC_JWKS_URL": c.OIDCJWKSURL,
	} {
		if raw == "" {
			continue
		}
		if err := validateHTTPURL(key, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", key)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envOrDefaultTime(key string, fallback time.Time) (time.Time, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp: %w", key, err)
		}
		return t.UTC(), nil
	}
	return fallback, nil
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envPrefixes parses a comma-separated list of CIDRs. A bare address is
// taken as a single-host prefix.
func envPrefixes(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range envList(key) {
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("%s entry %q is not an IP or CIDR: %w", key, raw, err)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("%s entry %q is not an IP or CIDR: %w", key, raw, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
