package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestLinearDelay(t *testing.T) {
	d := Linear(500 * time.Millisecond)
	for attempt, want := range map[int]time.Duration{0: 500 * time.Millisecond, 1: 500 * time.Millisecond, 2: time.Second, 3: 1500 * time.Millisecond} {
		if got := d(attempt); got != want {
			t.Fatalf("Linear(500ms)(%d)=%v, want %v", attempt, got, want)
		}
	}
}

func TestExponentialDelay(t *testing.T) {
	d := Exponential(100*time.Millisecond, 0, 250*time.Millisecond)
	if got := d(1); got != 100*time.Millisecond {
		t.Fatalf("first delay=%v", got)
	}
	if got := d(2); got != 200*time.Millisecond {
		t.Fatalf("second delay=%v", got)
	}
	if got := d(3); got != 250*time.Millisecond {
		t.Fatalf("third delay should be capped, got %v", got)
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 3, Delay: Linear(10 * time.Millisecond), Sleep: recordSleeps(&waits)}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Fatalf("waits=%v, want %v", waits, want)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	var waits []time.Duration
	boom := errors.New("boom")
	p := Policy{MaxAttempts: 3, Delay: Linear(time.Millisecond), Sleep: recordSleeps(&waits)}

	err := p.Do(context.Background(), func(context.Context, int) error { return boom })
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("err=%v, want exhausted wrapping boom", err)
	}
	if Attempts(err) != 3 {
		t.Fatalf("Attempts=%d, want 3", Attempts(err))
	}
	if len(waits) != 2 {
		t.Fatalf("expected no wait after the final attempt, got %v", waits)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := Policy{MaxAttempts: 5, Retryable: func(err error) bool { return !errors.Is(err, fatal) }}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || errors.Is(err, ErrExhausted) {
		t.Fatalf("err=%v, want fatal unwrapped", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Delay: Linear(time.Hour)}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("again")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestDoReportsRetries(t *testing.T) {
	var seen []int
	p := Policy{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry:     func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) },
	}
	_ = p.Do(context.Background(), func(context.Context, int) error { return errors.New("x") })
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("OnRetry attempts=%v, want [1]", seen)
	}
}
