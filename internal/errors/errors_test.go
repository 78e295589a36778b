package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"transient matches connection", WrapTransient("fetch_rates", "USD", errors.New("dial")), ErrConnectionFailed, true},
		{"auth matches unauthorized", WrapAuth("verify", "", errors.New("bad sig")), ErrUnauthorized, true},
		{"verification sentinel", WrapVerification("ensure_access", "u1", errors.New("missing")), ErrVerificationFailed, true},
		{"wrapped sentinel", New(ErrorTypeInternal, "convert", "", ErrRateUnavailable), ErrRateUnavailable, true},
		{"not found mismatch", WrapTransient("get", "", errors.New("x")), ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Fatalf("errors.Is()=%t, want %t", got, tt.want)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(WrapTransient("write", "u1", errors.New("busy"))) {
		t.Fatal("transient errors should be retryable")
	}
	if IsRetryableError(WrapAuth("verify", "", errors.New("expired"))) {
		t.Fatal("auth errors should not be retryable")
	}
	if IsRetryableError(fmt.Errorf("wrapped: %w", Invalid("price", "must be positive"))) {
		t.Fatal("validation errors should not be retryable")
	}
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("create: %w", Invalid("name", "category %q already exists", "Music"))

	if !errors.Is(err, ErrInvalidInput) {
		t.Fatal("expected validation error to match ErrInvalidInput")
	}
	v, ok := AsValidation(err)
	if !ok {
		t.Fatal("expected AsValidation to find the error")
	}
	if v.Field != "name" {
		t.Fatalf("field=%q, want name", v.Field)
	}
	if v.Error() != `name: category "Music" already exists` {
		t.Fatalf("unexpected message %q", v.Error())
	}
}

func TestIsAuthError(t *testing.T) {
	if IsAuthError(nil) {
		t.Fatal("nil is not an auth error")
	}
	if !IsAuthError(fmt.Errorf("session: %w", ErrUnauthorized)) {
		t.Fatal("expected wrapped ErrUnauthorized to be an auth error")
	}
	if IsAuthError(errors.New("disk full")) {
		t.Fatal("unexpected auth classification")
	}
}
