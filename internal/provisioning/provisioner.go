// Package provisioning creates the entitlement record for an account on its
// first authenticated sign-in.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/retry"
	"github.com/rcourtman/subtracker/pkg/entitlement"
)

// DefaultLegacyCutover separates grandfathered accounts from trial accounts.
var DefaultLegacyCutover = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// Outcomes reported to a Recorder.
const (
	OutcomeExisting   = "existing_record"
	OutcomeCreated    = "created"
	OutcomeRaced      = "raced"
	OutcomeFailed     = "failed"
	OutcomeUnverified = "verification_failed"
)

// Store is the record store slice provisioning needs.
type Store interface {
	GetAccess(ctx context.Context, userID string) (*entitlement.UserAccess, error)
	CreateAccess(ctx context.Context, a entitlement.UserAccess) error
}

// Notifier is told about freshly started trials.
type Notifier interface {
	TrialStarted(ctx context.Context, email string, access entitlement.UserAccess) error
}

// Recorder counts provisioning outcomes.
type Recorder interface {
	RecordProvisioning(outcome string)
}

// User is the signed-in account being provisioned.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Config tunes a Provisioner.
type Config struct {
	LegacyCutover time.Time
	WritePolicy   retry.Policy
	VerifyPolicy  retry.Policy
	Now           func() time.Time
	Notifier      Notifier
	Recorder      Recorder
}

// DefaultWritePolicy retries record creation three times with linearly
// increasing delay.
func DefaultWritePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Delay:       retry.Linear(500 * time.Millisecond),
		Retryable: func(err error) bool {
			return !errors.Is(err, apperrors.ErrConflict) && !errors.Is(err, apperrors.ErrInvalidInput)
		},
	}
}

// DefaultVerifyPolicy bounds the read-after-write check.
func DefaultVerifyPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Delay: retry.Linear(250 * time.Millisecond)}
}

// Provisioner ensures exactly one entitlement record exists per user.
type Provisioner struct {
	store Store
	cfg   Config
}

// New creates a Provisioner. Zero-valued config fields take defaults.
func New(store Store, cfg Config) *Provisioner {
	if cfg.LegacyCutover.IsZero() {
		cfg.LegacyCutover = DefaultLegacyCutover
	}
	if cfg.WritePolicy.MaxAttempts == 0 {
		cfg.WritePolicy = DefaultWritePolicy()
	}
	if cfg.VerifyPolicy.MaxAttempts == 0 {
		cfg.VerifyPolicy = DefaultVerifyPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provisioner{store: store, cfg: cfg}
}

// Classify returns the user type for an account created at createdAt.
func (p *Provisioner) Classify(createdAt time.Time) entitlement.UserType {
	if createdAt.Before(p.cfg.LegacyCutover) {
		return entitlement.UserTypeExisting
	}
	return entitlement.UserTypeNew
}

// EnsureAccessRecord returns the user's entitlement record, creating it on
// first call. An existing record is returned without any write.
func (p *Provisioner) EnsureAccessRecord(ctx context.Context, user User) (*entitlement.UserAccess, error) {
	if user.ID == "" {
		return nil, apperrors.Invalid("user_id", "user id is required")
	}

	existing, err := p.store.GetAccess(ctx, user.ID)
	if err != nil {
		return nil, apperrors.WrapTransient("get_access", user.ID, err)
	}
	if existing != nil {
		p.record(OutcomeExisting)
		return existing, nil
	}

	var record entitlement.UserAccess
	now := p.cfg.Now()
	if p.Classify(user.CreatedAt) == entitlement.UserTypeExisting {
		record = entitlement.NewExistingAccess(user.ID, now)
	} else {
		record = entitlement.NewTrialAccess(user.ID, now)
	}
	if err := entitlement.Validate(record); err != nil {
		return nil, err
	}

	writePolicy := p.cfg.WritePolicy
	writePolicy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn().Err(err).
			Str("user", user.ID).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Access record write failed, retrying")
	}
	err = writePolicy.Do(ctx, func(ctx context.Context, _ int) error {
		return p.store.CreateAccess(ctx, record)
	})

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrConflict):
		// A concurrent sign-in created the record first.
		raced, getErr := p.store.GetAccess(ctx, user.ID)
		if getErr == nil && raced != nil {
			log.Info().Str("user", user.ID).Msg("Access record created concurrently, using stored record")
			p.record(OutcomeRaced)
			return raced, nil
		}
		p.record(OutcomeFailed)
		return nil, fmt.Errorf("%w: conflict without readable record for %s", apperrors.ErrProvisioningFailed, user.ID)
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error().Err(err).Str("user", user.ID).Int("attempts", retry.Attempts(err)).Msg("Access record write failed")
		p.record(OutcomeFailed)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrProvisioningFailed, err)
	}

	verified, err := p.verify(ctx, user.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error().Err(err).Str("user", user.ID).Int("attempts", retry.Attempts(err)).Msg("Access record not readable after write")
		p.record(OutcomeUnverified)
		return nil, apperrors.WrapVerification("verify_access", user.ID, err)
	}

	log.Info().
		Str("user", user.ID).
		Str("user_type", string(verified.UserType)).
		Str("status", string(verified.SubscriptionStatus)).
		Msg("Access record provisioned")
	p.record(OutcomeCreated)

	if verified.SubscriptionStatus == entitlement.StatusTrial && p.cfg.Notifier != nil && user.Email != "" {
		if err := p.cfg.Notifier.TrialStarted(ctx, user.Email, *verified); err != nil {
			log.Warn().Err(err).Str("user", user.ID).Msg("Failed to send trial started email")
		}
	}
	return verified, nil
}

var errNotVisible = errors.New("record not visible yet")

func (p *Provisioner) verify(ctx context.Context, userID string) (*entitlement.UserAccess, error) {
	var found *entitlement.UserAccess
	err := p.cfg.VerifyPolicy.Do(ctx, func(ctx context.Context, _ int) error {
		a, err := p.store.GetAccess(ctx, userID)
		if err != nil {
			return err
		}
		if a == nil {
			return errNotVisible
		}
		found = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (p *Provisioner) record(outcome string) {
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.RecordProvisioning(outcome)
	}
}
