package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockKey = "archival"

// Tx is the set of writes one archival run performs atomically.
type Tx interface {
	SelectExpired(ctx context.Context, t models.ReporterType, cutoff time.Time) ([]models.Report, error)
	InsertArchived(ctx context.Context, a models.ArchivedReport) error
	DeleteReport(ctx context.Context, t models.ReporterType, id string) error
	InsertAudit(ctx context.Context, e models.AuditEntry) error
	InsertNotification(ctx context.Context, n models.Notification) error
}

// Store runs fn in one transaction, committing only if fn returns nil.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// RunLock serializes runs across processes.
type RunLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Indexer makes archived reports searchable.
type Indexer interface {
	IndexArchived(ctx context.Context, reports []models.ArchivedReport) error
}

// Publisher announces the run notification.
type Publisher interface {
	PublishNotification(ctx context.Context, n models.Notification) error
}

// Result summarizes one run.
type Result struct {
	ArchivedCount   int                  `json:"archivedCount"`
	PerTable        map[string]int       `json:"perTable,omitempty"`
	RetentionMonths int                  `json:"retentionMonths,omitempty"`
	Cutoff          time.Time            `json:"cutoff,omitempty"`
	Skipped         bool                 `json:"skipped"`
	Notification    *models.Notification `json:"notification,omitempty"`
}

type Options struct {
	// Timeout bounds a whole run, transaction included. Zero means none.
	Timeout time.Duration
	// LockTTL is how long the distributed run lock lives if never released.
	LockTTL time.Duration
}

// Job moves reports older than the retention window into the archive.
type Job struct {
	store     Store
	policies  policy.Provider
	lock      RunLock
	indexer   Indexer
	publisher Publisher
	metrics   *metrics.Collector
	opts      Options
	now       func() time.Time
	logger    *zap.Logger

	running atomic.Bool
}

// NewJob wires the job. lock, indexer and publisher may be nil.
func NewJob(store Store, policies policy.Provider, lock RunLock, indexer Indexer, publisher Publisher, m *metrics.Collector, opts Options, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	return &Job{
		store:     store,
		policies:  policies,
		lock:      lock,
		indexer:   indexer,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// Run archives every report, whatever its status, created before
// now minus the retention window. Either all qualifying rows move together
// with one audit entry and one system notification, or nothing changes.
// Overlapping runs fail with apperrors.ErrAlreadyRunning.
func (j *Job) Run(ctx context.Context) (Result, error) {
	if !j.running.CompareAndSwap(false, true) {
		return Result{}, apperrors.ErrAlreadyRunning
	}
	defer j.running.Store(false)

	if j.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := j.runLocked(ctx)
	j.observe(res, err, time.Since(start))
	return res, err
}

func (j *Job) runLocked(ctx context.Context) (Result, error) {
	if j.lock != nil {
		token, ok, err := j.lock.TryLock(ctx, lockKey, j.opts.LockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("failed to acquire archival lock: %w", err)
		}
		if !ok {
			return Result{}, apperrors.ErrAlreadyRunning
		}
		defer func() {
			// The run context may already be done; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.lock.Unlock(releaseCtx, lockKey, token); err != nil {
				j.logger.Warn("Failed to release archival lock", zap.Error(err))
			}
		}()
	}

	cfg, err := j.policies.Current(ctx)
	if err != nil {
		return Result{}, err
	}
	months, configured := cfg.Retention()
	if !configured {
		j.logger.Info("Archival skipped: no retention policy configured")
		return Result{Skipped: true}, nil
	}

	now := j.now().UTC()
	res := Result{
		RetentionMonths: months,
		Cutoff:          now.AddDate(0, -months, 0),
		PerTable:        make(map[string]int, len(models.ReporterTypes)),
	}

	var archived []models.ArchivedReport
	var note *models.Notification
	err = j.store.InTx(ctx, func(tx Tx) error {
		archived = archived[:0]
		note = nil
		for _, rt := range models.ReporterTypes {
			rows, err := tx.SelectExpired(ctx, rt, res.Cutoff)
			if err != nil {
				return fmt.Errorf("select %s: %w", rt.Table(), err)
			}
			for _, r := range rows {
				a := models.NewArchivedReport(uuid.NewString(), rt.Table(), r, now)
				if err := tx.InsertArchived(ctx, a); err != nil {
					return fmt.Errorf("archive %s/%s: %w", rt.Table(), r.ID, err)
				}
				if err := tx.DeleteReport(ctx, rt, r.ID); err != nil {
					return fmt.Errorf("delete %s/%s: %w", rt.Table(), r.ID, err)
				}
				archived = append(archived, a)
			}
			res.PerTable[rt.Table()] = len(rows)
		}

		if len(archived) == 0 {
			return nil
		}

		entry, err := j.auditEntry(res, len(archived), now)
		if err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, entry); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}

		n := runNotification(len(archived), months, res.Cutoff, now)
		if err := tx.InsertNotification(ctx, n); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		note = &n
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("archival aborted: %w", err)
	}

	res.ArchivedCount = len(archived)
	res.Notification = note
	if res.ArchivedCount > 0 {
		j.afterCommit(ctx, archived, note)
	}
	return res, nil
}

func (j *Job) auditEntry(res Result, count int, now time.Time) (models.AuditEntry, error) {
	summary, err := json.Marshal(map[string]interface{}{
		"archivedCount":   count,
		"retentionMonths": res.RetentionMonths,
		"cutoff":          res.Cutoff.Format(time.RFC3339),
		"perTable":        res.PerTable,
	})
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("encode audit summary: %w", err)
	}
	return models.AuditEntry{
		ID:        uuid.NewString(),
		Entity:    models.AuditEntitySystem,
		EntityID:  lockKey,
		Action:    models.AuditActionArchive,
		ChangedBy: models.AuditActorSystem,
		NewValue:  summary,
		ChangedAt: now,
	}, nil
}

func runNotification(count, months int, cutoff, now time.Time) models.Notification {
	return models.Notification{
		ID:    uuid.NewString(),
		Type:  models.NotificationSystem,
		Title: "Report Archival Completed",
		Description: fmt.Sprintf("Archived %d report(s) created before %s under the %d-month retention policy.",
			count, cutoff.Format("2006-01-02"), months),
		ClassificationReason: "Retention policy",
		CreatedAt:            now,
	}
}

// afterCommit indexes and announces a committed run. Failures are logged;
// the archive table stays authoritative.
func (j *Job) afterCommit(ctx context.Context, archived []models.ArchivedReport, note *models.Notification) {
	if j.indexer != nil {
		if err := j.indexer.IndexArchived(ctx, archived); err != nil {
			j.logger.Warn("Failed to index archived reports", zap.Int("count", len(archived)), zap.Error(err))
		}
	}
	if j.publisher != nil && note != nil {
		if err := j.publisher.PublishNotification(ctx, *note); err != nil {
			j.logger.Warn("Failed to publish archival notification", zap.Error(err))
		}
	}
}

func (j *Job) observe(res Result, err error, elapsed time.Duration) {
	outcome := "archived"
	switch {
	case errors.Is(err, apperrors.ErrAlreadyRunning):
		outcome = "overlap"
	case err != nil:
		outcome = "failed"
	case res.Skipped || res.ArchivedCount == 0:
		outcome = "noop"
	}
	j.metrics.ArchivalRun(outcome, res.ArchivedCount, elapsed.Seconds())

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("archived", res.ArchivedCount),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil && outcome == "failed" {
		j.logger.Error("Archival run failed", append(fields, zap.Error(err))...)
		return
	}
	j.logger.Info("Archival run finished", fields...)
}
