package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewHMACVerifierRejectsShortSecret(t *testing.T) {
	_, err := NewHMACVerifier("short", "", "")
	require.Error(t, err)
}

func TestHMACVerifier(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v, err := NewHMACVerifier(testSecret, "subtracker", "api")
	require.NoError(t, err)
	v.now = func() time.Time { return now }

	valid, err := IssueHMACToken(testSecret, "subtracker", "api", "user-1", "u@example.com", time.Hour, now)
	require.NoError(t, err)
	expired, err := IssueHMACToken(testSecret, "subtracker", "api", "user-1", "", time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)
	wrongSecret, err := IssueHMACToken("ffffffffffffffffffffffffffffffff", "subtracker", "api", "user-1", "", time.Hour, now)
	require.NoError(t, err)
	wrongAudience, err := IssueHMACToken(testSecret, "subtracker", "other", "user-1", "", time.Hour, now)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"garbage", "not.a.jwt", false},
		{"expired", expired, false},
		{"wrong secret", wrongSecret, false},
		{"wrong audience", wrongAudience, false},
		{"alg none", unsigned, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(context.Background(), tt.token)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", claims.Subject)
			assert.Equal(t, "u@example.com", claims.Email)
			assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
		})
	}
}

func TestIssueHMACTokenRequiresSubject(t *testing.T) {
	_, err := IssueHMACToken(testSecret, "", "", " ", "", time.Hour, time.Now())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestMiddleware(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, "", "")
	require.NoError(t, err)
	token, err := IssueHMACToken(testSecret, "", "", "user-9", "", time.Hour, time.Now())
	require.NoError(t, err)

	var seen string
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		user   string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent, "user-9"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, http.StatusNoContent, "user-9"},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") }, http.StatusUnauthorized, ""},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"query without upgrade", func(r *http.Request) { r.URL.RawQuery = "access_token=" + token }, http.StatusUnauthorized, ""},
		{"query on websocket upgrade", func(r *http.Request) {
			r.URL.RawQuery = "access_token=" + token
			r.Header.Set("Upgrade", "websocket")
		}, http.StatusNoContent, "user-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/access", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
			if tt.status == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func jwksServer(t *testing.T, key *rsa.PublicKey, kid string) *httptest.Server {
	t.Helper()
	b64 := base64.RawURLEncoding
	body, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   b64.EncodeToString(key.N.Bytes()),
			"e":   b64.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, &key.PublicKey, "k1")

	const issuer = "https://id.example.com"
	now := time.Now()
	v, err := NewOIDCVerifier(context.Background(), OIDCConfig{Issuer: issuer, JWKSURL: srv.URL, Audience: "subtracker"})
	require.NoError(t, err)

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":   issuer,
			"aud":   "subtracker",
			"sub":   "oidc-user",
			"email": "o@example.com",
			"iat":   now.Unix(),
			"exp":   now.Add(time.Hour).Unix(),
		}
	}

	t.Run("valid", func(t *testing.T) {
		c, err := v.Verify(context.Background(), signRS256(t, key, "k1", base()))
		require.NoError(t, err)
		assert.Equal(t, "oidc-user", c.Subject)
		assert.Equal(t, "o@example.com", c.Email)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := base()
		claims["iss"] = "https://evil.example.com"
		_, err := v.Verify(context.Background(), signRS256(t, key, "k1", claims))
		assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := base()
		claims["aud"] = "someone-else"
		_, err := v.Verify(context.Background(), signRS256(t, key, "k1", claims))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := base()
		claims["exp"] = now.Add(-time.Minute).Unix()
		_, err := v.Verify(context.Background(), signRS256(t, key, "k1", claims))
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := v.Verify(context.Background(), signRS256(t, other, "k1", base()))
		assert.Error(t, err)
	})
}

func TestNewOIDCVerifierRequiresIssuer(t *testing.T) {
	_, err := NewOIDCVerifier(context.Background(), OIDCConfig{JWKSURL: "https://id.example.com/jwks"})
	assert.Error(t, err)
}
