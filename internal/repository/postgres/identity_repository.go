package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/lockout"
	"policy-core/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const identityColumns = `id, email, role, failed_login_attempts, locked_at, last_active_at, password_changed_at, created_at`

// IdentityRepository backs both the session verifier and the lockout
// manager.
type IdentityRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityRepository(pool *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email)
}

func (r *IdentityRepository) getOne(ctx context.Context, sql string, arg string) (*models.Identity, error) {
	var ident models.Identity
	var role string
	err := r.pool.QueryRow(ctx, sql, arg).Scan(
		&ident.ID, &ident.Email, &role, &ident.FailedLoginAttempts,
		&ident.LockedAt, &ident.LastActiveAt, &ident.PasswordChangedAt, &ident.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select identity: %w", err)
	}
	ident.Role = models.Role(role)
	return &ident, nil
}

// Create inserts an identity. Used by provisioning and tests.
func (r *IdentityRepository) Create(ctx context.Context, ident models.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (id, email, role, failed_login_attempts, locked_at, last_active_at, password_changed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ident.ID, ident.Email, string(ident.Role), ident.FailedLoginAttempts,
		ident.LockedAt, ident.LastActiveAt, ident.PasswordChangedAt, ident.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *IdentityRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE identities SET last_active_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update last_active_at: %w", err)
	}
	return nil
}

// IncrementFailedAttempts counts a failure and sets locked_at exactly when
// the new count reaches max, all in one statement. A lock left over from a
// lower threshold is cleared. The row lock taken by the sub-select
// serializes concurrent failures so none is lost, and the previous
// locked_at tells whether this call performed the lock.
func (r *IdentityRepository) IncrementFailedAttempts(ctx context.Context, email string, max int, now time.Time) (lockout.Counter, error) {
	var c lockout.Counter
	err := r.pool.QueryRow(ctx, `
		UPDATE identities AS i
		SET failed_login_attempts = i.failed_login_attempts + 1,
		    locked_at = CASE
		        WHEN i.failed_login_attempts + 1 >= $2 THEN COALESCE(i.locked_at, $3)
		        ELSE NULL
		    END
		FROM (
		    SELECT id, locked_at AS prev_locked_at
		    FROM identities
		    WHERE lower(email) = lower($1)
		    FOR UPDATE
		) AS prev
		WHERE i.id = prev.id
		RETURNING i.id, i.failed_login_attempts, i.locked_at,
		          (prev.prev_locked_at IS NULL AND i.locked_at IS NOT NULL)`,
		email, max, now,
	).Scan(&c.IdentityID, &c.Attempts, &c.LockedAt, &c.NewlyLocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return lockout.Counter{}, apperrors.ErrNotFound
	}
	if err != nil {
		return lockout.Counter{}, fmt.Errorf("increment failed attempts: %w", err)
	}
	return c, nil
}

func (r *IdentityRepository) ResetFailedAttempts(ctx context.Context, email string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE identities SET failed_login_attempts = 0, locked_at = NULL
		WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
