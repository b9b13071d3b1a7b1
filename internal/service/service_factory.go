package service

import (
	"context"

	"policy-core/internal/archive"
	"policy-core/internal/authz"
	"policy-core/internal/bucketing"
	"policy-core/internal/config"
	"policy-core/internal/hashing"
	"policy-core/internal/lockout"
	"policy-core/internal/metrics"
	"policy-core/internal/policy"
	"policy-core/internal/ratelimit"
	"policy-core/internal/securitylog"
	"policy-core/internal/session"
	"policy-core/internal/severity"

	"go.uber.org/zap"
)

// IdentityRepository backs both credential verification and lockout.
type IdentityRepository interface {
	session.IdentityStore
	lockout.Store
}

// Dependencies are the stores and sinks the services run on. RunLock,
// Indexer, Publisher, Analytics, Events and EventSource are optional; leave
// them nil when the backing system is not configured.
type Dependencies struct {
	Policies      policy.Repository
	Identities    IdentityRepository
	Reports       ReportRepository
	Notifications severity.NotificationStore
	Archive       archive.Store

	RunLock   archive.RunLock
	Indexer   archive.Indexer
	Publisher severity.Publisher
	Analytics severity.AnalyticsSink
	Events    securitylog.Store

	EventSource securitylog.Source

	// Invalidators are told when the stored policy changes, in addition to
	// the local cache.
	Invalidators []policy.Invalidator
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg     *config.Config
	deps    Dependencies
	metrics *metrics.Collector
	buckets *bucketing.Manager
	logger  *zap.Logger

	provider      *policy.CachedProvider
	policyService *policy.Service
	recorder      *securitylog.Recorder
	eventReader   *securitylog.Reader
	verifier      *session.Verifier
	chains        *authz.Chains
	lockout       *lockout.Manager
	limiter       *ratelimit.Limiter
	fingerprinter *hashing.Fingerprinter
	notifier      *severity.Notifier
	reports       *ReportService
	archival      *archive.Job
}

func NewServiceFactory(cfg *config.Config, deps Dependencies, m *metrics.Collector, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		buckets: bucketing.NewManager(cfg.Bucketing),
		logger:  logger,
	}
}

// PolicyProvider returns the shared cached policy snapshot.
func (f *ServiceFactory) PolicyProvider() *policy.CachedProvider {
	if f.provider == nil {
		f.provider = policy.NewCachedProvider(f.deps.Policies, f.cfg.Auth.PolicyCacheTTL, f.logger.Named("policy"))
	}
	return f.provider
}

func (f *ServiceFactory) PolicyService() *policy.Service {
	if f.policyService == nil {
		invalidators := append([]policy.Invalidator{f.PolicyProvider()}, f.deps.Invalidators...)
		f.policyService = policy.NewService(f.deps.Policies, f.logger.Named("policy"), invalidators...)
	}
	return f.policyService
}

func (f *ServiceFactory) SecurityEvents() *securitylog.Recorder {
	if f.recorder == nil {
		f.recorder = securitylog.NewRecorder(f.deps.Events, f.buckets, f.logger.Named("security"))
	}
	return f.recorder
}

func (f *ServiceFactory) SecurityEventReader() *securitylog.Reader {
	if f.eventReader == nil {
		f.eventReader = securitylog.NewReader(f.deps.EventSource, f.buckets, f.logger.Named("security"))
	}
	return f.eventReader
}

func (f *ServiceFactory) Verifier() *session.Verifier {
	if f.verifier == nil {
		f.verifier = session.NewVerifier(session.Options{
			Secret:           f.cfg.Auth.JWTSecret,
			AllowUnverified:  f.cfg.UnverifiedTokensAllowed(),
			FreshTokenWindow: f.cfg.Auth.FreshTokenWindow,
			HeartbeatTimeout: f.cfg.Auth.HeartbeatTimeout,
		}, f.PolicyProvider(), f.deps.Identities, f.logger.Named("session"))
	}
	return f.verifier
}

func (f *ServiceFactory) Chains() *authz.Chains {
	if f.chains == nil {
		f.chains = authz.NewChains(f.PolicyProvider(), f.Verifier(), f.SecurityEvents(), f.metrics, f.logger.Named("authz"))
	}
	return f.chains
}

func (f *ServiceFactory) Lockout() *lockout.Manager {
	if f.lockout == nil {
		f.lockout = lockout.NewManager(f.deps.Identities, f.PolicyProvider(), f.SecurityEvents(), f.metrics, f.logger.Named("lockout"))
	}
	return f.lockout
}

func (f *ServiceFactory) Limiter() *ratelimit.Limiter {
	if f.limiter == nil {
		f.limiter = ratelimit.NewLimiter(f.buckets, f.logger.Named("ratelimit"))
	}
	return f.limiter
}

func (f *ServiceFactory) Fingerprinter() *hashing.Fingerprinter {
	if f.fingerprinter == nil {
		f.fingerprinter = hashing.NewFingerprinter(f.cfg.Auth.FingerprintKey)
	}
	return f.fingerprinter
}

func (f *ServiceFactory) Notifier() *severity.Notifier {
	if f.notifier == nil {
		f.notifier = severity.NewNotifier(f.deps.Notifications, f.deps.Publisher, f.deps.Analytics,
			f.PolicyProvider(), f.metrics, f.logger.Named("severity"))
	}
	return f.notifier
}

func (f *ServiceFactory) ReportService() *ReportService {
	if f.reports == nil {
		f.reports = NewReportService(f.deps.Reports, f.Notifier(), f.logger.Named("reports"))
	}
	return f.reports
}

func (f *ServiceFactory) ArchivalJob() *archive.Job {
	if f.archival == nil {
		f.archival = archive.NewJob(f.deps.Archive, f.PolicyProvider(), f.deps.RunLock, f.deps.Indexer, f.deps.Publisher,
			f.metrics, archive.Options{
				Timeout: f.cfg.Archival.Timeout,
				LockTTL: f.cfg.Archival.LockTTL,
			}, f.logger.Named("archival"))
	}
	return f.archival
}

// StartBackground runs the limiter sweeper until ctx is done.
func (f *ServiceFactory) StartBackground(ctx context.Context) {
	f.Limiter().StartSweeper(ctx, f.cfg.RateLimit.SweepInterval)
}

// Cleanup waits for in-flight security event writes.
func (f *ServiceFactory) Cleanup() {
	if f.recorder != nil {
		f.recorder.Wait()
	}
}
