package authz

import (
	"context"
	"strings"

	"policy-core/internal/apperrors"
	"policy-core/internal/models"
	"policy-core/internal/session"
)

// Guard runs before the caller is identified.
type Guard func(ctx context.Context, cfg *models.PolicyConfig) error

// IdentityGuard runs once the caller is known.
type IdentityGuard func(ctx context.Context, cfg *models.PolicyConfig, ident session.Identity) error

// MaintenanceGuard refuses every caller while maintenance mode is on.
func MaintenanceGuard() Guard {
	return func(_ context.Context, cfg *models.PolicyConfig) error {
		if cfg.MaintenanceMode {
			return apperrors.Reject(apperrors.ReasonMaintenance, "system is under maintenance")
		}
		return nil
	}
}

var strongFactors = map[string]bool{
	"otp":       true,
	"totp":      true,
	"email":     true,
	"email_otp": true,
	"magiclink": true,
	"mfa":       true,
	"webauthn":  true,
}

var elevatedLevels = map[string]bool{
	"elevated": true,
	"aal2":     true,
	"aal3":     true,
}

// HasStrongAuth reports whether ident authenticated with more than a
// baseline factor.
func HasStrongAuth(ident session.Identity) bool {
	if elevatedLevels[strings.ToLower(strings.TrimSpace(ident.AssuranceLevel))] {
		return true
	}
	for _, m := range ident.AuthMethods {
		if strongFactors[strings.ToLower(strings.TrimSpace(m))] {
			return true
		}
	}
	return false
}

// StepUpGuard requires a strong factor when the policy asks for step-up
// authentication.
func StepUpGuard() IdentityGuard {
	return func(_ context.Context, cfg *models.PolicyConfig, ident session.Identity) error {
		if !cfg.RequireStepUpAuth || HasStrongAuth(ident) {
			return nil
		}
		return apperrors.Reject(apperrors.ReasonStepUpRequired, "additional verification required")
	}
}

// RoleGuard admits only the listed roles.
func RoleGuard(allowed ...models.Role) IdentityGuard {
	set := make(map[models.Role]bool, len(allowed))
	for _, r := range allowed {
		set[r] = true
	}
	return func(_ context.Context, _ *models.PolicyConfig, ident session.Identity) error {
		if set[ident.Role] {
			return nil
		}
		return apperrors.Reject(apperrors.ReasonForbiddenRole, "insufficient role")
	}
}
