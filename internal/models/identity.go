package models

import "time"

type Role string

const (
	RoleViewer     Role = "viewer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Identity is an administrative account. FailedLoginAttempts only grows on a
// failed authentication and LockedAt is stamped when it reaches the policy
// threshold.
type Identity struct {
	ID                  string     `json:"id" db:"id"`
	Email               string     `json:"email" db:"email"`
	Role                Role       `json:"role" db:"role"`
	FailedLoginAttempts int        `json:"failedLoginAttempts" db:"failed_login_attempts"`
	LockedAt            *time.Time `json:"lockedAt,omitempty" db:"locked_at"`
	LastActiveAt        *time.Time `json:"lastActiveAt,omitempty" db:"last_active_at"`
	PasswordChangedAt   *time.Time `json:"passwordChangedAt,omitempty" db:"password_changed_at"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
}
