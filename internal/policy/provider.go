package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider hands out policy snapshots. Callers get their own copy and may
// observe a value up to one cache TTL old.
type Provider interface {
	Current(ctx context.Context) (*models.PolicyConfig, error)
}

// Repository is the persistent home of the policy row.
type Repository interface {
	Get(ctx context.Context) (*models.PolicyConfig, error)
	// Save replaces the row and appends entry in one transaction.
	Save(ctx context.Context, cfg *models.PolicyConfig, entry models.AuditEntry) error
}

// defaultLoadTimeout bounds one repository reload.
const defaultLoadTimeout = 5 * time.Second

// CachedProvider serves snapshots from memory and reloads from the
// repository once the TTL lapses. Concurrent reloads are coalesced into one
// load that no single caller's cancellation can abort.
type CachedProvider struct {
	repo        Repository
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu       sync.RWMutex
	cached   *models.PolicyConfig
	loadedAt time.Time

	group singleflight.Group
}

func NewCachedProvider(repo Repository, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		repo:        repo,
		ttl:         ttl,
		loadTimeout: defaultLoadTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

func (p *CachedProvider) Current(ctx context.Context) (*models.PolicyConfig, error) {
	p.mu.RLock()
	cached, loadedAt := p.cached, p.loadedAt
	p.mu.RUnlock()

	if cached != nil && p.now().Sub(loadedAt) < p.ttl {
		return cached.Clone(), nil
	}

	ch := p.group.DoChan("policy", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.loadTimeout)
		defer cancel()
		return p.load(loadCtx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := res.Err; err != nil {
		if cached != nil && !apperrors.IsConfigError(err) {
			p.logger.Warn("Policy reload failed, serving previous snapshot", zap.Error(err))
			return cached.Clone(), nil
		}
		return nil, err
	}
	return res.Val.(*models.PolicyConfig).Clone(), nil
}

func (p *CachedProvider) load(ctx context.Context) (*models.PolicyConfig, error) {
	cfg, err := p.repo.Get(ctx)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, &apperrors.ConfigError{Setting: "policy configuration row"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	p.mu.Lock()
	p.cached = cfg
	p.loadedAt = p.now()
	p.mu.Unlock()
	return cfg, nil
}

// Invalidate forces the next Current call to reload.
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}

// StaticProvider always returns the same configured snapshot.
type StaticProvider struct {
	mu  sync.RWMutex
	cfg *models.PolicyConfig
}

func NewStaticProvider(cfg *models.PolicyConfig) *StaticProvider {
	return &StaticProvider{cfg: cfg}
}

func (s *StaticProvider) Current(context.Context) (*models.PolicyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, &apperrors.ConfigError{Setting: "policy configuration row"}
	}
	return s.cfg.Clone(), nil
}

// Set swaps the snapshot.
func (s *StaticProvider) Set(cfg *models.PolicyConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
