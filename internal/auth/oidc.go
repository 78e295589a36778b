package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

// OIDCConfig configures verification against an identity provider's JWKS.
type OIDCConfig struct {
	Issuer   string
	JWKSURL  string
	Audience string
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// OIDCVerifier validates RS256/ES256 tokens issued by an external identity
// provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier creates a verifier that fetches signing keys from the JWKS
// URL on demand. The context bounds key fetches for the verifier's lifetime.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil, fmt.Errorf("oidc issuer and jwks url are required")
	}
	keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
			ClientID:          cfg.Audience,
			SkipClientIDCheck: cfg.Audience == "",
			Now:               cfg.Now,
		}),
	}, nil
}

// Verify validates raw against the provider keys.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.WrapAuth("verify_token", "", errors.New("token is required"))
	}
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, apperrors.WrapAuth("verify_token", "", err)
	}
	var extra struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&extra); err != nil {
		return nil, apperrors.WrapAuth("verify_token", tok.Subject, err)
	}
	c, err := toClaims(tok.Subject, extra.Email, nil)
	if err != nil {
		return nil, err
	}
	c.IssuedAt = tok.IssuedAt
	return c, nil
}
