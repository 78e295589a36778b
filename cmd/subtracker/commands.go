package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rcourtman/subtracker/internal/auth"
	"github.com/rcourtman/subtracker/pkg/currency"
)

var (
	ratesAPIKey  string
	ratesBaseURL string
	ratesOnly    []string

	tokenSecret   string
	tokenEmail    string
	tokenIssuer   string
	tokenAudience string
	tokenTTL      time.Duration
)

var ratesCmd = &cobra.Command{
	Use:   "rates <base>",
	Short: "Print exchange rates for a base currency",
	Long:  `Fetch the current rate table for a base currency. Without an API key the static fallback rates are printed.`,
	Example: `  subtracker rates USD
  subtracker rates eur --only GBP,JPY`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := currency.ParseCode(args[0])
		if err != nil {
			return err
		}
		_ = godotenv.Load(envPath())
		apiKey := firstNonEmpty(ratesAPIKey, os.Getenv("FX_API_KEY"))

		var fetcher currency.Fetcher
		if apiKey != "" {
			fetcher = currency.NewHTTPFetcher(firstNonEmpty(ratesBaseURL, os.Getenv("FX_BASE_URL")), apiKey, nil)
		}
		conv := currency.NewConverter(fetcher, currency.NewCache(currency.DefaultCacheTTL, nil))
		table, err := conv.Table(commandContext(cmd), base)
		if err != nil {
			return err
		}
		return printRates(cmd, table, ratesOnly)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a signed development access token",
	Long:  `Sign an HS256 bearer token for a user with the shared AUTH_JWT_SECRET. Intended for local development and testing.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(envPath())
		secret := firstNonEmpty(tokenSecret, os.Getenv("AUTH_JWT_SECRET"))
		if secret == "" {
			return fmt.Errorf("a signing secret is required (--secret or AUTH_JWT_SECRET)")
		}
		tok, err := auth.IssueHMACToken(
			secret,
			firstNonEmpty(tokenIssuer, os.Getenv("AUTH_JWT_ISSUER")),
			firstNonEmpty(tokenAudience, os.Getenv("AUTH_JWT_AUDIENCE")),
			args[0], tokenEmail, tokenTTL, time.Now(),
		)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	ratesCmd.Flags().StringVar(&ratesAPIKey, "api-key", "", "exchange rate API key (default $FX_API_KEY)")
	ratesCmd.Flags().StringVar(&ratesBaseURL, "base-url", "", "exchange rate API base URL (default $FX_BASE_URL)")
	ratesCmd.Flags().StringSliceVar(&ratesOnly, "only", nil, "limit output to these currency codes")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default $AUTH_JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "", "issuer claim (default $AUTH_JWT_ISSUER)")
	tokenCmd.Flags().StringVar(&tokenAudience, "audience", "", "audience claim (default $AUTH_JWT_AUDIENCE)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func printRates(cmd *cobra.Command, table currency.RateTable, only []string) error {
	codes := currency.Supported()
	if len(only) > 0 {
		codes = codes[:0:0]
		for _, raw := range only {
			code, err := currency.ParseCode(raw)
			if err != nil {
				return err
			}
			codes = append(codes, code)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Base: %s (%s, %s)\n", table.Base, table.Source, table.FetchedAt.UTC().Format(time.RFC3339))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tRATE")
	for _, code := range codes {
		rate, ok := table.Rate(code)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.6g\n", code, code.Name(), rate)
	}
	return tw.Flush()
}

func envPath() string {
	if envFile != "" {
		return envFile
	}
	return ".env"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
