// Package server assembles the service and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/subtracker/internal/api"
	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/internal/config"
	"github.com/rcourtman/subtracker/internal/email"
	"github.com/rcourtman/subtracker/internal/logging"
	"github.com/rcourtman/subtracker/internal/metrics"
	"github.com/rcourtman/subtracker/internal/provisioning"
	"github.com/rcourtman/subtracker/internal/realtime"
	"github.com/rcourtman/subtracker/internal/store"
	"github.com/rcourtman/subtracker/internal/stripe"
	"github.com/rcourtman/subtracker/internal/subscriptions"
	"github.com/rcourtman/subtracker/pkg/currency"
	"github.com/rcourtman/subtracker/pkg/entitlement"
	"github.com/rcourtman/subtracker/pkg/spend"
)

const (
	shutdownTimeout     = 30 * time.Second
	dnsRefreshInterval  = 5 * time.Minute
	fxRequestTimeout    = 10 * time.Second
	limiterSweepPeriod  = 5 * time.Minute
	accessMetricsPeriod = time.Minute
)

// Run starts the HTTP server with graceful shutdown.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "subtracker",
	})

	log.Info().Str("version", version).Msg("Starting subscription tracker")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Create derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	broker := realtime.NewBroker(realtime.DefaultBuffer)
	st, err := store.Open(cfg.DataDir, store.WithPublisher(broker))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	notifier := email.NewNotifier(newEmailSender(cfg), cfg.EmailFrom, cfg.AppBaseURL)
	rates := newConverter(ctx, cfg)

	deps := &api.Deps{
		Store:    st,
		Verifier: verifier,
		Provisioner: provisioning.New(st, provisioning.Config{
			LegacyCutover: cfg.LegacyCutover,
			Notifier:      notifier,
			Recorder:      metrics.Recorder{},
		}),
		Subscriptions:   subscriptions.New(st, nil),
		Rates:           rates,
		Aggregator:      spend.NewAggregator(rates, spend.WithObserver(metrics.Recorder{})),
		AccessCache:     realtime.NewMirror[entitlement.UserAccess](),
		WebhookLimiter: api.NewRateLimiter(api.RateLimitOptions{
			Limit:          cfg.WebhookRateLimit,
			Window:         cfg.WebhookRateWindow,
			TrustedProxies: cfg.TrustedProxies,
		}),
		DefaultCurrency: currency.USD,
		Version:         version,
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Webhook = stripe.NewWebhookHandler(cfg.StripeWebhookSecret, st, stripe.WithNotifier(notifier))
	} else {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, payment webhook disabled")
	}
	deps.Realtime = api.NewRealtimeHub(deps, broker, cfg.AllowedOrigins)

	go followAccess(ctx, deps.AccessCache, broker, st)
	go runAccessStateMetrics(ctx, st)
	go runLimiterSweep(ctx, deps.WebhookLimiter)

	watcher, err := config.NewWatcher(cfg, logging.SetLevel)
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, log level changes need a restart")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		defer watcher.Stop()
	}

	addr := cfg.ListenAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server failed")
		runErr = fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Subscription tracker stopped")
	return runErr
}

func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	if cfg.UsesOIDC() {
		log.Info().Str("issuer", cfg.OIDCIssuer).Msg("Verifying tokens against OIDC provider")
		return auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			Issuer:   cfg.OIDCIssuer,
			JWKSURL:  cfg.OIDCJWKSURL,
			Audience: cfg.OIDCAudience,
		})
	}
	return auth.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
}

func newEmailSender(cfg *config.Config) email.Sender {
	if cfg.PostmarkServerToken != "" {
		log.Info().Msg("Email sender configured (Postmark)")
		return email.NewRetryingSender(email.NewPostmarkSender(cfg.PostmarkServerToken, nil), email.DefaultSendPolicy())
	}
	log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	return email.NewLogSender(func(to, subject, body string) {
		const maxBody = 4096
		if len(body) > maxBody {
			body = body[:maxBody] + "...(truncated)"
		}
		log.Info().
			Str("to", to).
			Str("subject", subject).
			Str("body", body).
			Msg("Email (log-only, no email provider configured)")
	})
}

// newConverter builds the rate converter. Without an API key only the
// static fallback rates are served.
func newConverter(ctx context.Context, cfg *config.Config) *currency.Converter {
	var fetcher currency.Fetcher
	if cfg.FXAPIKey != "" {
		resolver := &dnscache.Resolver{}
		go currency.RefreshResolver(ctx, resolver, dnsRefreshInterval)
		client := currency.NewHTTPClient(resolver, fxRequestTimeout)
		fetcher = currency.NewHTTPFetcher(cfg.FXBaseURL, cfg.FXAPIKey, client)
	} else {
		log.Warn().Msg("FX_API_KEY not set, using static fallback exchange rates")
	}
	return currency.NewConverter(fetcher, currency.NewCache(cfg.FXCacheTTL, nil),
		currency.WithRecorder(metrics.Recorder{}))
}

func followAccess(ctx context.Context, cache *realtime.Mirror[entitlement.UserAccess], broker *realtime.Broker, st *store.Store) {
	err := cache.Follow(ctx, broker, realtime.Filter{Table: store.TableAccess}, st.ListAccess)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Entitlement cache stopped, falling back to store reads")
	}
}

func runLimiterSweep(ctx context.Context, limiter *api.RateLimiter) {
	ticker := time.NewTicker(limiterSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Swept idle rate limit entries")
			}
		}
	}
}
