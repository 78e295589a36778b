package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/retry"
	"github.com/rcourtman/subtracker/pkg/entitlement"
)

func TestLogSender_Send(t *testing.T) {
	var gotTo, gotSubject string
	sender := NewLogSender(func(to, subject, _ string) {
		gotTo = to
		gotSubject = subject
	})

	if err := sender.Send(context.Background(), Message{To: "test@example.com", Subject: "Test Subject"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTo != "test@example.com" || gotSubject != "Test Subject" {
		t.Fatalf("logged to=%q subject=%q", gotTo, gotSubject)
	}
}

func TestPostmarkSender_Send(t *testing.T) {
	var got postmarkRequest
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Postmark-Server-Token")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	sender := NewPostmarkSender("pm-token", srv.Client()).WithEndpoint(srv.URL)
	err := sender.Send(context.Background(), Message{From: "a@x.test", To: "b@x.test", Subject: "Hi", Text: "body", Tag: "t"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token != "pm-token" {
		t.Fatalf("token=%q", token)
	}
	if got.To != "b@x.test" || got.TextBody != "body" || got.Tag != "t" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPostmarkSender_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rejected recipient", http.StatusUnprocessableEntity, false},
		{"provider outage", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
			}))
			defer srv.Close()

			err := NewPostmarkSender("x", srv.Client()).WithEndpoint(srv.URL).Send(context.Background(), Message{To: "b@x.test"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, apperrors.ErrConnectionFailed); got != tt.transient {
				t.Fatalf("transient=%t, want %t (err=%v)", got, tt.transient, err)
			}
		})
	}
}

type captureSender struct {
	msgs []Message
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestNotifierTrialStarted(t *testing.T) {
	sink := &captureSender{}
	n := NewNotifier(sink, "hello@subtracker.test", "https://app.subtracker.test/")
	access := entitlement.NewTrialAccess("u1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	if err := n.TrialStarted(context.Background(), "u1@example.com", access); err != nil {
		t.Fatalf("TrialStarted: %v", err)
	}
	if len(sink.msgs) != 1 {
		t.Fatalf("sent %d messages", len(sink.msgs))
	}
	msg := sink.msgs[0]
	if msg.From != "hello@subtracker.test" || msg.Tag != "trial-started" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Text, "June 8, 2025") || !strings.Contains(msg.HTML, "June 8, 2025") {
		t.Fatalf("trial end date missing from body: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, `href="https://app.subtracker.test"`) {
		t.Fatal("dashboard link missing")
	}
}

func TestNotifierPremiumRequiresEndDate(t *testing.T) {
	n := NewNotifier(&captureSender{}, "a@x.test", "")
	if err := n.PremiumActivated(context.Background(), "b@x.test", entitlement.UserAccess{UserID: "u"}); err == nil {
		t.Fatal("expected error without subscription end date")
	}

	premium, err := entitlement.ApplyPremium(entitlement.UserAccess{UserID: "u", UserType: entitlement.UserTypeNew, SubscriptionStatus: entitlement.StatusFree}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.PremiumActivated(context.Background(), "b@x.test", premium); err != nil {
		t.Fatalf("PremiumActivated: %v", err)
	}
}

func TestRetryingSenderBacksOffOnTransientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ErrorCode":1,"Message":"busy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	policy := DefaultSendPolicy()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	sender := NewRetryingSender(NewPostmarkSender("pm-token", srv.Client()).WithEndpoint(srv.URL), policy)

	if err := sender.Send(context.Background(), Message{To: "b@x.test", Subject: "Hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
	if len(waits) != 2 || waits[0] != 200*time.Millisecond || waits[1] != 400*time.Millisecond {
		t.Fatalf("waits=%v, want [200ms 400ms]", waits)
	}
}

func TestRetryingSenderStopsOnPermanentErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email"}`))
	}))
	defer srv.Close()

	policy := DefaultSendPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	sender := NewRetryingSender(NewPostmarkSender("pm-token", srv.Client()).WithEndpoint(srv.URL), policy)

	err := sender.Send(context.Background(), Message{To: "bad", Subject: "Hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls=%d, permanent errors must not be retried", calls)
	}
	if errors.Is(err, apperrors.ErrConnectionFailed) {
		t.Fatalf("422 should not be transient: %v", err)
	}
}

func TestRetryingSenderReportsExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	policy := DefaultSendPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	sender := NewRetryingSender(NewPostmarkSender("pm-token", srv.Client()).WithEndpoint(srv.URL), policy)

	err := sender.Send(context.Background(), Message{To: "b@x.test"})
	if !errors.Is(err, retry.ErrExhausted) || !errors.Is(err, apperrors.ErrConnectionFailed) {
		t.Fatalf("expected exhausted transient error, got %v", err)
	}
	if n := retry.Attempts(err); n != 3 {
		t.Fatalf("Attempts=%d, want 3", n)
	}
}
