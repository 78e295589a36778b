// Package auth verifies bearer tokens and carries the caller's identity in
// the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

// Claims identifies an authenticated caller.
type Claims struct {
	Subject  string
	Email    string
	IssuedAt time.Time
}

// Verifier validates a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

type contextKey string

const contextKeyClaims contextKey = "claims"

// WithClaims adds the caller's claims to the context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, c)
}

// ClaimsFrom extracts the caller's claims from the context.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKeyClaims).(*Claims)
	return c, ok && c != nil
}

// UserID returns the authenticated subject, or "" for anonymous contexts.
func UserID(ctx context.Context) string {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.Subject
	}
	return ""
}

// tokenClaims is the JWT body for HMAC-signed session tokens.
type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewHMACVerifier creates a verifier for tokens signed with secret. Empty
// issuer or audience disables that check.
func NewHMACVerifier(secret, issuer, audience string) (*HMACVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth secret must be at least 32 bytes")
	}
	return &HMACVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}, nil
}

// Verify parses and validates raw.
func (v *HMACVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.WrapAuth("verify_token", "", errors.New("token is required"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, apperrors.WrapAuth("verify_token", "", err)
	}
	if !parsed.Valid {
		return nil, apperrors.WrapAuth("verify_token", "", errors.New("token is invalid"))
	}
	return toClaims(claims.Subject, claims.Email, claims.IssuedAt)
}

// IssueHMACToken signs a session token for subject. It backs the CLI token
// command and tests.
func IssueHMACToken(secret, issuer, audience, subject, email string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", apperrors.Invalid("subject", "subject is required")
	}
	if now.IsZero() {
		now = time.Now()
	}
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func toClaims(subject, email string, iat *jwt.NumericDate) (*Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, apperrors.WrapAuth("verify_token", "", errors.New("token has no subject"))
	}
	c := &Claims{Subject: subject, Email: strings.TrimSpace(email)}
	if iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}
