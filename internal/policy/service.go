package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"policy-core/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Update is a partial policy change. Nil fields are left as they are.
type Update struct {
	MaintenanceMode       *bool                  `json:"maintenanceMode,omitempty"`
	RequireStepUpAuth     *bool                  `json:"requireStepUpAuth,omitempty"`
	SessionTimeoutMinutes *models.Limit          `json:"sessionTimeoutMinutes,omitempty"`
	PasswordExpiryDays    *models.Limit          `json:"passwordExpiryDays,omitempty"`
	MaxLoginAttempts      *int                   `json:"maxLoginAttempts,omitempty"`
	RetentionMonths       *json.Number           `json:"retentionMonths,omitempty"`
	UrgentAlertsEnabled   *bool                  `json:"urgentAlertsEnabled,omitempty"`
	NotifyOnApproval      *bool                  `json:"notifyOnApproval,omitempty"`
	AlertThreshold        *models.AlertThreshold `json:"alertThreshold,omitempty"`
}

// Invalidator is told when the stored policy changes so other cached copies
// can be dropped.
type Invalidator interface {
	Invalidate()
}

// Service is the administrative write path for the policy row.
type Service struct {
	repo         Repository
	invalidators []Invalidator
	now          func() time.Time
	logger       *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger, invalidators ...Invalidator) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:         repo,
		invalidators: invalidators,
		now:          time.Now,
		logger:       logger,
	}
}

// Get reads the stored policy bypassing any cache.
func (s *Service) Get(ctx context.Context) (*models.PolicyConfig, error) {
	return s.repo.Get(ctx)
}

// Update applies u on top of the stored policy, stores the result together
// with an audit entry carrying the old and new values, and invalidates
// cached snapshots.
func (s *Service) Update(ctx context.Context, u Update, actor string) (*models.PolicyConfig, error) {
	current, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	next, err := apply(current.Clone(), u)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	next.ID = models.PolicyConfigID
	next.UpdatedAt = now
	next.UpdatedBy = actor

	oldValue, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	newValue, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}

	entry := models.AuditEntry{
		ID:        uuid.NewString(),
		Entity:    models.AuditEntityPolicy,
		EntityID:  models.PolicyConfigID,
		Action:    models.AuditActionUpdate,
		ChangedBy: actor,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedAt: now,
	}
	if err := s.repo.Save(ctx, next, entry); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}

	for _, inv := range s.invalidators {
		inv.Invalidate()
	}

	s.logger.Info("Policy updated",
		zap.String("changed_by", actor),
		zap.Bool("maintenance_mode", next.MaintenanceMode),
		zap.Bool("require_step_up", next.RequireStepUpAuth),
	)
	return next, nil
}

func apply(cfg *models.PolicyConfig, u Update) (*models.PolicyConfig, error) {
	if u.MaintenanceMode != nil {
		cfg.MaintenanceMode = *u.MaintenanceMode
	}
	if u.RequireStepUpAuth != nil {
		cfg.RequireStepUpAuth = *u.RequireStepUpAuth
	}
	if u.SessionTimeoutMinutes != nil {
		cfg.SessionTimeoutMinutes = *u.SessionTimeoutMinutes
	}
	if u.PasswordExpiryDays != nil {
		cfg.PasswordExpiryDays = *u.PasswordExpiryDays
	}
	if u.MaxLoginAttempts != nil {
		if *u.MaxLoginAttempts < 1 {
			return nil, fmt.Errorf("%w: maxLoginAttempts must be at least 1", ErrInvalidPolicy)
		}
		cfg.MaxLoginAttempts = *u.MaxLoginAttempts
	}
	if u.RetentionMonths != nil {
		raw := strings.TrimSpace(u.RetentionMonths.String())
		if raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: retentionMonths must be a positive whole number", ErrInvalidPolicy)
			}
			raw = strconv.Itoa(n)
		}
		cfg.RetentionMonths = raw
	}
	if u.UrgentAlertsEnabled != nil {
		cfg.Notification.UrgentAlertsEnabled = *u.UrgentAlertsEnabled
	}
	if u.NotifyOnApproval != nil {
		cfg.Notification.NotifyOnApproval = *u.NotifyOnApproval
	}
	if u.AlertThreshold != nil {
		cfg.Notification.AlertThreshold = models.ParseAlertThreshold(string(*u.AlertThreshold))
	}
	return cfg, nil
}
