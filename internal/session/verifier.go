package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/models"
	"policy-core/internal/policy"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Identity is the caller resolved from a verified credential.
type Identity struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	Role           models.Role `json:"role"`
	AssuranceLevel string      `json:"assuranceLevel,omitempty"`
	AuthMethods    []string    `json:"authMethods,omitempty"`
}

// IdentityStore loads identities and records activity heartbeats.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

type Options struct {
	// Secret is the HS256 signing key. Never logged.
	Secret string
	// AllowUnverified decodes credentials whose signature check failed.
	// Only for non-production test setups: every guard downstream then
	// trusts attacker-controlled claims.
	AllowUnverified bool
	// FreshTokenWindow is how long after issue the inactivity check is
	// skipped.
	FreshTokenWindow time.Duration
	// HeartbeatTimeout bounds the background lastActiveAt update.
	HeartbeatTimeout time.Duration
}

type Verifier struct {
	opts     Options
	policies policy.Provider
	store    IdentityStore
	parser   *jwt.Parser
	now      func() time.Time
	logger   *zap.Logger
}

func NewVerifier(opts Options, policies policy.Provider, store IdentityStore, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FreshTokenWindow <= 0 {
		opts.FreshTokenWindow = 5 * time.Minute
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 3 * time.Second
	}
	if opts.AllowUnverified {
		logger.Warn("Unverified bearer credentials are accepted; signature checks can be bypassed")
	}
	return &Verifier{
		opts:     opts,
		policies: policies,
		store:    store,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuedAt()),
		now:      time.Now,
		logger:   logger,
	}
}

// Verify resolves credential to an Identity, enforcing maintenance mode,
// the signature, inactivity timeout and password expiry in that order.
func (v *Verifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	credential = stripBearer(credential)
	if credential == "" {
		return nil, apperrors.Unauthenticated("missing credential")
	}
	if v.opts.Secret == "" {
		return nil, &apperrors.ConfigError{Setting: "JWT_SECRET"}
	}

	cfg, err := v.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.MaintenanceMode {
		return nil, apperrors.Reject(apperrors.ReasonMaintenance, "system is under maintenance")
	}

	claims, err := v.parseClaims(credential)
	if err != nil {
		return nil, err
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, apperrors.Unauthenticated("credential has no subject")
	}

	ident, err := v.store.GetByID(ctx, subject)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Unauthenticated("unknown identity")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	now := v.now()
	if timeout := cfg.SessionTimeout(); timeout > 0 && !v.isFresh(claims, now) && ident.LastActiveAt != nil {
		if now.Sub(*ident.LastActiveAt) > timeout {
			v.logger.Debug("Session expired by inactivity", zap.String("identity_id", ident.ID))
			return nil, apperrors.Reject(apperrors.ReasonSessionExpired, "session expired due to inactivity")
		}
	}

	v.heartbeat(ident.ID, now)

	if expiry := cfg.PasswordExpiry(); expiry > 0 && ident.PasswordChangedAt != nil {
		if now.Sub(*ident.PasswordChangedAt) > expiry {
			return nil, apperrors.Reject(apperrors.ReasonPasswordExpired, "password has expired")
		}
	}

	return &Identity{
		ID:             ident.ID,
		Email:          ident.Email,
		Role:           ident.Role,
		AssuranceLevel: claims.AAL,
		AuthMethods:    []string(claims.AMR),
	}, nil
}

func (v *Verifier) parseClaims(credential string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(v.opts.Secret), nil
	})
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, apperrors.Unauthenticated("credential expired")
	}
	if !v.opts.AllowUnverified {
		return nil, apperrors.Unauthenticated("invalid credential")
	}

	claims = &Claims{}
	if _, _, perr := jwt.NewParser().ParseUnverified(credential, claims); perr != nil {
		return nil, apperrors.Unauthenticated("invalid credential")
	}
	if claims.ExpiresAt != nil && v.now().After(claims.ExpiresAt.Time) {
		return nil, apperrors.Unauthenticated("credential expired")
	}
	v.logger.Warn("Accepted credential without signature verification")
	return claims, nil
}

func (v *Verifier) isFresh(claims *Claims, now time.Time) bool {
	if claims.IssuedAt == nil {
		return false
	}
	return now.Sub(claims.IssuedAt.Time) <= v.opts.FreshTokenWindow
}

// heartbeat records activity without holding up the request.
func (v *Verifier) heartbeat(identityID string, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.opts.HeartbeatTimeout)
		defer cancel()
		if err := v.store.TouchLastActive(ctx, identityID, at); err != nil {
			v.logger.Warn("Failed to record session heartbeat",
				zap.String("identity_id", identityID),
				zap.Error(err),
			)
		}
	}()
}

func stripBearer(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) > 7 && strings.EqualFold(credential[:7], "bearer ") {
		credential = strings.TrimSpace(credential[7:])
	}
	return credential
}
