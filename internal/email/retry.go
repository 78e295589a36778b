package email

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/retry"
)

// DefaultSendPolicy retries transient provider failures with a short
// exponential backoff. Sends happen on request paths, so the total wait stays
// under a second.
func DefaultSendPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Delay:       retry.Exponential(200*time.Millisecond, 2, time.Second),
		Retryable:   apperrors.IsRetryableError,
	}
}

// RetryingSender resends a message while the wrapped sender reports a
// transient failure.
type RetryingSender struct {
	next   Sender
	policy retry.Policy
}

// NewRetryingSender wraps next. A zero policy uses DefaultSendPolicy.
func NewRetryingSender(next Sender, policy retry.Policy) *RetryingSender {
	if policy.MaxAttempts == 0 {
		policy = DefaultSendPolicy()
	}
	return &RetryingSender{next: next, policy: policy}
}

// Send delivers msg through the wrapped sender.
func (s *RetryingSender) Send(ctx context.Context, msg Message) error {
	policy := s.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Debug().Err(err).
			Str("tag", msg.Tag).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Email send failed, retrying")
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		return s.next.Send(ctx, msg)
	})
	if n := retry.Attempts(err); n > 0 {
		log.Warn().Err(err).Str("tag", msg.Tag).Int("attempts", n).Msg("Email send gave up")
	}
	return err
}
