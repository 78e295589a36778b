package currency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
)

func TestHTTPFetcherSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"success","base_code":"USD","conversion_rates":{"USD":1,"EUR":0.91,"gbp":0.78,"XAU":0.0004}}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/v6/", "test-key", srv.Client())
	table, err := f.Fetch(context.Background(), USD)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/v6/test-key/latest/USD" {
		t.Fatalf("path=%q", gotPath)
	}
	if rate, ok := table.Rate(EUR); !ok || rate != 0.91 {
		t.Fatalf("EUR rate=%v ok=%t", rate, ok)
	}
	if rate, ok := table.Rate(GBP); !ok || rate != 0.78 {
		t.Fatalf("GBP rate=%v ok=%t (codes should be upper-cased)", rate, ok)
	}
	if _, ok := table.Rate("XAU"); ok {
		t.Fatal("unsupported codes should be ignored")
	}
	if table.Source != SourceLive {
		t.Fatalf("source=%q, want live", table.Source)
	}
}

func TestHTTPFetcherErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"result":"error","error-type":"invalid-key"}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "bad", srv.Client())
	_, err := f.Fetch(context.Background(), EUR)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperrors.ErrConnectionFailed) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestHTTPFetcherRequiresAPIKey(t *testing.T) {
	f := NewHTTPFetcher("http://127.0.0.1:1", "", http.DefaultClient)
	if _, err := f.Fetch(context.Background(), USD); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestHTTPFetcherFeedsConverterFallbackOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	conv := NewConverter(NewHTTPFetcher(srv.URL, "k", srv.Client()), nil)
	table, err := conv.Table(context.Background(), USD)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if table.Source != SourceFallback {
		t.Fatalf("source=%q, want fallback", table.Source)
	}
}

func TestHTTPFetcherErrorOmitsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer cannot hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	const key = "secret-key-123"
	_, err := NewHTTPFetcher(srv.URL, key, srv.Client()).Fetch(context.Background(), USD)
	if err == nil {
		t.Fatal("expected error when the connection is dropped")
	}
	if strings.Contains(err.Error(), key) {
		t.Fatalf("error leaks API key: %v", err)
	}
	if !strings.Contains(err.Error(), "/***/latest/USD") {
		t.Fatalf("error should keep the redacted URL: %v", err)
	}
}
