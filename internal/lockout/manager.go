package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/policy"
	"policy-core/internal/securitylog"

	"go.uber.org/zap"
)

// DefaultMaxAttempts applies when the policy holds no usable threshold.
const DefaultMaxAttempts = 5

// Status is the lockout view of one identity.
type Status struct {
	Locked            bool       `json:"locked"`
	RemainingAttempts int        `json:"remainingAttempts"`
	FailedAttempts    int        `json:"-"`
	LockedAt          *time.Time `json:"-"`
}

// Counter is the result of one atomic failed-attempt update.
type Counter struct {
	IdentityID  string
	Attempts    int
	LockedAt    *time.Time
	NewlyLocked bool
}

// Store keeps the per-identity attempt counters. Emails match
// case-insensitively and unknown emails yield apperrors.ErrNotFound.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	// IncrementFailedAttempts bumps the counter and stamps lockedAt when it
	// reaches max, in a single conditional statement.
	IncrementFailedAttempts(ctx context.Context, email string, max int, now time.Time) (Counter, error)
	ResetFailedAttempts(ctx context.Context, email string) error
}

type Manager struct {
	store    Store
	policies policy.Provider
	events   *securitylog.Recorder
	metrics  *metrics.Collector
	now      func() time.Time
	logger   *zap.Logger
}

func NewManager(store Store, policies policy.Provider, events *securitylog.Recorder, m *metrics.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		policies: policies,
		events:   events,
		metrics:  m,
		now:      time.Now,
		logger:   logger,
	}
}

// CheckLockout reports whether email is locked and how many attempts remain.
// Unknown emails look like fresh, unlocked accounts.
func (m *Manager) CheckLockout(ctx context.Context, email string) (Status, error) {
	max, err := m.maxAttempts(ctx)
	if err != nil {
		return Status{}, err
	}
	ident, err := m.store.GetByEmail(ctx, normalize(email))
	if errors.Is(err, apperrors.ErrNotFound) {
		return statusFor(0, nil, max), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to load lockout state: %w", err)
	}
	return statusFor(ident.FailedLoginAttempts, ident.LockedAt, max), nil
}

// RecordFailure counts one failed authentication for email.
func (m *Manager) RecordFailure(ctx context.Context, email string) (Status, error) {
	max, err := m.maxAttempts(ctx)
	if err != nil {
		return Status{}, err
	}
	email = normalize(email)

	c, err := m.store.IncrementFailedAttempts(ctx, email, max, m.now().UTC())
	if errors.Is(err, apperrors.ErrNotFound) {
		return statusFor(0, nil, max), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	m.events.Record(models.SecurityEvent{
		EventType:  models.EventLoginFailed,
		IdentityID: c.IdentityID,
		Email:      email,
	})
	if c.NewlyLocked {
		m.metrics.AccountLocked()
		m.events.Record(models.SecurityEvent{
			EventType:  models.EventAccountLocked,
			IdentityID: c.IdentityID,
			Email:      email,
			Reason:     fmt.Sprintf("%d failed attempts", c.Attempts),
		})
		m.logger.Warn("Account locked", zap.String("identity_id", c.IdentityID), zap.Int("attempts", c.Attempts))
	}
	return statusFor(c.Attempts, c.LockedAt, max), nil
}

// RecordSuccess clears the failed-attempt counter and any lock.
func (m *Manager) RecordSuccess(ctx context.Context, email string) error {
	email = normalize(email)
	err := m.store.ResetFailedAttempts(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	m.events.Record(models.SecurityEvent{EventType: models.EventLoginSucceeded, Email: email})
	return nil
}

func (m *Manager) maxAttempts(ctx context.Context) (int, error) {
	cfg, err := m.policies.Current(ctx)
	if err != nil {
		return 0, err
	}
	return MaxAttempts(cfg), nil
}

// MaxAttempts is the lockout threshold cfg implies.
func MaxAttempts(cfg *models.PolicyConfig) int {
	if cfg.MaxLoginAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return cfg.MaxLoginAttempts
}

func statusFor(attempts int, lockedAt *time.Time, max int) Status {
	remaining := max - attempts
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Locked:            attempts >= max,
		RemainingAttempts: remaining,
		FailedAttempts:    attempts,
		LockedAt:          lockedAt,
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
