package postgres

import (
	"context"
	"errors"
	"fmt"

	"policy-core/internal/apperrors"
	"policy-core/internal/lockout"
	"policy-core/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PolicyRepository struct {
	pool *pgxpool.Pool
}

func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

func (r *PolicyRepository) Get(ctx context.Context) (*models.PolicyConfig, error) {
	var (
		cfg                models.PolicyConfig
		sessionRaw, expiry string
		threshold          string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, maintenance_mode, require_step_up_auth, session_timeout_minutes, password_expiry_days,
		       max_login_attempts, retention_months, urgent_alerts_enabled, notify_on_approval,
		       alert_threshold, updated_at, updated_by
		FROM policy_config WHERE id = $1`, models.PolicyConfigID,
	).Scan(
		&cfg.ID, &cfg.MaintenanceMode, &cfg.RequireStepUpAuth, &sessionRaw, &expiry,
		&cfg.MaxLoginAttempts, &cfg.RetentionMonths, &cfg.Notification.UrgentAlertsEnabled,
		&cfg.Notification.NotifyOnApproval, &threshold, &cfg.UpdatedAt, &cfg.UpdatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select policy: %w", err)
	}

	if cfg.SessionTimeoutMinutes, err = models.ParseLimit(sessionRaw); err != nil {
		return nil, fmt.Errorf("session_timeout_minutes: %w", err)
	}
	if cfg.PasswordExpiryDays, err = models.ParseLimit(expiry); err != nil {
		return nil, fmt.Errorf("password_expiry_days: %w", err)
	}
	cfg.Notification.AlertThreshold = models.ParseAlertThreshold(threshold)
	return &cfg, nil
}

// syncLocksSQL brings locked_at in line with a lockout threshold: set when
// the counter is at or above it, cleared otherwise. Only rows that disagree
// are touched.
const syncLocksSQL = `
	UPDATE identities
	SET locked_at = CASE WHEN failed_login_attempts >= $1 THEN now() ELSE NULL END
	WHERE (failed_login_attempts >= $1) <> (locked_at IS NOT NULL)`

// Save upserts the policy row, re-derives every identity's lock against the
// new threshold and appends entry, all in the same transaction.
func (r *PolicyRepository) Save(ctx context.Context, cfg *models.PolicyConfig, entry models.AuditEntry) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO policy_config (id, maintenance_mode, require_step_up_auth, session_timeout_minutes,
			    password_expiry_days, max_login_attempts, retention_months, urgent_alerts_enabled,
			    notify_on_approval, alert_threshold, updated_at, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
			    maintenance_mode = EXCLUDED.maintenance_mode,
			    require_step_up_auth = EXCLUDED.require_step_up_auth,
			    session_timeout_minutes = EXCLUDED.session_timeout_minutes,
			    password_expiry_days = EXCLUDED.password_expiry_days,
			    max_login_attempts = EXCLUDED.max_login_attempts,
			    retention_months = EXCLUDED.retention_months,
			    urgent_alerts_enabled = EXCLUDED.urgent_alerts_enabled,
			    notify_on_approval = EXCLUDED.notify_on_approval,
			    alert_threshold = EXCLUDED.alert_threshold,
			    updated_at = EXCLUDED.updated_at,
			    updated_by = EXCLUDED.updated_by`,
			models.PolicyConfigID, cfg.MaintenanceMode, cfg.RequireStepUpAuth,
			cfg.SessionTimeoutMinutes.String(), cfg.PasswordExpiryDays.String(), cfg.MaxLoginAttempts,
			cfg.RetentionMonths, cfg.Notification.UrgentAlertsEnabled, cfg.Notification.NotifyOnApproval,
			string(cfg.Notification.AlertThreshold), cfg.UpdatedAt, cfg.UpdatedBy,
		)
		if err != nil {
			return fmt.Errorf("upsert policy: %w", err)
		}
		if _, err := tx.Exec(ctx, syncLocksSQL, lockout.MaxAttempts(cfg)); err != nil {
			return fmt.Errorf("sync identity locks: %w", err)
		}
		return insertAudit(ctx, tx, entry)
	})
}
