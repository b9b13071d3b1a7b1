package authz

import (
	"context"

	"policy-core/internal/apperrors"
	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/policy"
	"policy-core/internal/securitylog"
	"policy-core/internal/session"

	"go.uber.org/zap"
)

type Tier string

const (
	TierViewer     Tier = "viewer"
	TierAdmin      Tier = "admin"
	TierSuperAdmin Tier = "super_admin"
)

// Roles lists the roles admitted at each tier; every tier admits a subset
// of the tier below it.
var Roles = map[Tier][]models.Role{
	TierViewer:     {models.RoleViewer, models.RoleAdmin, models.RoleSuperAdmin},
	TierAdmin:      {models.RoleAdmin, models.RoleSuperAdmin},
	TierSuperAdmin: {models.RoleSuperAdmin},
}

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (*session.Identity, error)
}

// RequestContext is what a privileged handler receives once every guard
// has passed.
type RequestContext struct {
	Tier     Tier
	Identity session.Identity
	Policy   *models.PolicyConfig
}

// Chain runs its guards in order and stops at the first rejection.
type Chain struct {
	tier     Tier
	policies policy.Provider
	pre      []Guard
	auth     Authenticator
	post     []IdentityGuard

	events  *securitylog.Recorder
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewChain(tier Tier, policies policy.Provider, auth Authenticator, pre []Guard, post []IdentityGuard) *Chain {
	return &Chain{
		tier:     tier,
		policies: policies,
		pre:      pre,
		auth:     auth,
		post:     post,
		logger:   zap.NewNop(),
	}
}

func (c *Chain) Tier() Tier {
	return c.tier
}

// Authorize evaluates the chain for one request.
func (c *Chain) Authorize(ctx context.Context, credential string) (*RequestContext, error) {
	cfg, err := c.policies.Current(ctx)
	if err != nil {
		return nil, err
	}

	for _, g := range c.pre {
		if err := g(ctx, cfg); err != nil {
			return nil, c.reject(err, "")
		}
	}

	ident, err := c.auth.Verify(ctx, credential)
	if err != nil {
		return nil, c.reject(err, "")
	}

	for _, g := range c.post {
		if err := g(ctx, cfg, *ident); err != nil {
			return nil, c.reject(err, ident.ID)
		}
	}

	return &RequestContext{Tier: c.tier, Identity: *ident, Policy: cfg}, nil
}

func (c *Chain) reject(err error, identityID string) error {
	r, ok := apperrors.AsRejection(err)
	if !ok {
		c.logger.Error("Authorization failed", zap.String("tier", string(c.tier)), zap.Error(err))
		return err
	}
	c.metrics.AuthzRejected(string(c.tier), string(r.Reason))
	if r.Reason != apperrors.ReasonMaintenance {
		c.events.Record(models.SecurityEvent{
			EventType:  models.EventAuthRejected,
			IdentityID: identityID,
			Reason:     string(r.Reason),
		})
	}
	c.logger.Debug("Authorization rejected",
		zap.String("tier", string(c.tier)),
		zap.String("reason", string(r.Reason)),
		zap.String("identity_id", identityID),
	)
	return err
}

// Chains holds one chain per privilege tier.
type Chains struct {
	byTier map[Tier]*Chain
}

// NewChains builds maintenance → identity → step-up → role chains for all
// three tiers.
func NewChains(policies policy.Provider, auth Authenticator, events *securitylog.Recorder, m *metrics.Collector, logger *zap.Logger) *Chains {
	if logger == nil {
		logger = zap.NewNop()
	}
	cs := &Chains{byTier: make(map[Tier]*Chain, len(Roles))}
	for tier, roles := range Roles {
		ch := NewChain(tier, policies, auth,
			[]Guard{MaintenanceGuard()},
			[]IdentityGuard{StepUpGuard(), RoleGuard(roles...)},
		)
		ch.events = events
		ch.metrics = m
		ch.logger = logger
		cs.byTier[tier] = ch
	}
	return cs
}

// For returns the chain for tier. Unknown tiers get the most restrictive
// chain.
func (cs *Chains) For(tier Tier) *Chain {
	if ch, ok := cs.byTier[tier]; ok {
		return ch
	}
	return cs.byTier[TierSuperAdmin]
}

type ctxKey struct{}

func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the authorized caller, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}
