package authz

import (
	"context"
	"sync/atomic"
	"testing"

	"policy-core/internal/apperrors"
	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/policy"
	"policy-core/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	ident *session.Identity
	err   error
	calls atomic.Int64
}

func (f *fakeAuth) Verify(context.Context, string) (*session.Identity, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	c := *f.ident
	return &c, nil
}

func withRole(role models.Role) *fakeAuth {
	return &fakeAuth{ident: &session.Identity{ID: "u-" + string(role), Role: role}}
}

func rejectionReason(t *testing.T, err error) apperrors.Reason {
	t.Helper()
	r, ok := apperrors.AsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	return r.Reason
}

func TestMaintenanceRejectsEveryTier(t *testing.T) {
	cfg := models.DefaultPolicyConfig()
	cfg.MaintenanceMode = true
	auth := withRole(models.RoleSuperAdmin)
	chains := NewChains(policy.NewStaticProvider(cfg), auth, nil, nil, nil)

	for _, tier := range []Tier{TierViewer, TierAdmin, TierSuperAdmin} {
		_, err := chains.For(tier).Authorize(context.Background(), "valid")
		assert.Equal(t, apperrors.ReasonMaintenance, rejectionReason(t, err), tier)
	}
	assert.Equal(t, int64(0), auth.calls.Load(), "identity stage must not run")
}

func TestRoleTiers(t *testing.T) {
	cases := []struct {
		role    models.Role
		tier    Tier
		allowed bool
	}{
		{models.RoleViewer, TierViewer, true},
		{models.RoleViewer, TierAdmin, false},
		{models.RoleViewer, TierSuperAdmin, false},
		{models.RoleAdmin, TierViewer, true},
		{models.RoleAdmin, TierAdmin, true},
		{models.RoleAdmin, TierSuperAdmin, false},
		{models.RoleSuperAdmin, TierViewer, true},
		{models.RoleSuperAdmin, TierAdmin, true},
		{models.RoleSuperAdmin, TierSuperAdmin, true},
		{models.Role("auditor"), TierViewer, false},
	}
	cfg := models.DefaultPolicyConfig()

	for _, tc := range cases {
		chains := NewChains(policy.NewStaticProvider(cfg), withRole(tc.role), nil, nil, nil)
		rc, err := chains.For(tc.tier).Authorize(context.Background(), "cred")
		if tc.allowed {
			require.NoError(t, err, "%s at %s", tc.role, tc.tier)
			assert.Equal(t, tc.role, rc.Identity.Role)
			assert.Equal(t, tc.tier, rc.Tier)
		} else {
			assert.Equal(t, apperrors.ReasonForbiddenRole, rejectionReason(t, err), "%s at %s", tc.role, tc.tier)
		}
	}
}

func TestStepUp(t *testing.T) {
	cfg := models.DefaultPolicyConfig()
	cfg.RequireStepUpAuth = true
	provider := policy.NewStaticProvider(cfg)

	weak := &fakeAuth{ident: &session.Identity{ID: "u", Role: models.RoleAdmin, AssuranceLevel: "aal1", AuthMethods: []string{"password"}}}
	_, err := NewChains(provider, weak, nil, nil, nil).For(TierViewer).Authorize(context.Background(), "c")
	assert.Equal(t, apperrors.ReasonStepUpRequired, rejectionReason(t, err))

	for _, ident := range []session.Identity{
		{ID: "u", Role: models.RoleAdmin, AssuranceLevel: "aal2"},
		{ID: "u", Role: models.RoleAdmin, AssuranceLevel: "elevated"},
		{ID: "u", Role: models.RoleAdmin, AuthMethods: []string{"password", "TOTP"}},
		{ID: "u", Role: models.RoleAdmin, AuthMethods: []string{"magiclink"}},
	} {
		ident := ident
		_, err := NewChains(provider, &fakeAuth{ident: &ident}, nil, nil, nil).For(TierAdmin).Authorize(context.Background(), "c")
		assert.NoError(t, err, "%+v", ident)
	}

	cfg.RequireStepUpAuth = false
	provider.Set(cfg)
	_, err = NewChains(provider, weak, nil, nil, nil).For(TierAdmin).Authorize(context.Background(), "c")
	assert.NoError(t, err)
}

func TestStepUpRunsBeforeRole(t *testing.T) {
	cfg := models.DefaultPolicyConfig()
	cfg.RequireStepUpAuth = true
	chains := NewChains(policy.NewStaticProvider(cfg), withRole(models.RoleViewer), nil, nil, nil)

	_, err := chains.For(TierSuperAdmin).Authorize(context.Background(), "c")
	assert.Equal(t, apperrors.ReasonStepUpRequired, rejectionReason(t, err))
}

func TestFirstFailureShortCircuits(t *testing.T) {
	var preRan, postRan atomic.Int64
	pre := func(context.Context, *models.PolicyConfig) error { preRan.Add(1); return nil }
	post := func(context.Context, *models.PolicyConfig, session.Identity) error { postRan.Add(1); return nil }

	auth := &fakeAuth{err: apperrors.Reject(apperrors.ReasonSessionExpired, "idle")}
	ch := NewChain(TierAdmin, policy.NewStaticProvider(models.DefaultPolicyConfig()), auth,
		[]Guard{pre}, []IdentityGuard{post})

	_, err := ch.Authorize(context.Background(), "c")
	assert.Equal(t, apperrors.ReasonSessionExpired, rejectionReason(t, err))
	assert.Equal(t, int64(1), preRan.Load())
	assert.Equal(t, int64(0), postRan.Load())
}

func TestConfigErrorsPassThrough(t *testing.T) {
	auth := &fakeAuth{err: &apperrors.ConfigError{Setting: "JWT_SECRET"}}
	chains := NewChains(policy.NewStaticProvider(models.DefaultPolicyConfig()), auth, nil, metrics.NewCollector(prometheus.NewRegistry()), nil)

	_, err := chains.For(TierViewer).Authorize(context.Background(), "c")
	assert.True(t, apperrors.IsConfigError(err))

	_, err = NewChains(policy.NewStaticProvider(nil), auth, nil, nil, nil).For(TierViewer).Authorize(context.Background(), "c")
	assert.True(t, apperrors.IsConfigError(err))
}

func TestUnknownTierIsMostRestrictive(t *testing.T) {
	chains := NewChains(policy.NewStaticProvider(models.DefaultPolicyConfig()), withRole(models.RoleAdmin), nil, nil, nil)
	assert.Equal(t, TierSuperAdmin, chains.For(Tier("root")).Tier())
}

func TestRequestContextRoundTrip(t *testing.T) {
	rc := &RequestContext{Tier: TierAdmin, Identity: session.Identity{ID: "u"}}
	got, ok := FromContext(WithRequestContext(context.Background(), rc))
	require.True(t, ok)
	assert.Same(t, rc, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
