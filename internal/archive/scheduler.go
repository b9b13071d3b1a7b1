package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policy-core/internal/apperrors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs archival every Sunday at 00:00 UTC.
const DefaultSchedule = "0 0 * * 0"

// Scheduler triggers the job on a cron schedule.
type Scheduler struct {
	job      *Job
	cron     *cron.Cron
	schedule string
	logger   *zap.Logger
}

func NewScheduler(job *Job, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		job:      job,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid archival schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Archival scheduler started",
		zap.String("schedule", s.schedule),
		zap.Time("next_run", s.NextRun()),
	)
}

// Stop waits for an in-flight run or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Archival scheduler stop timed out")
	}
}

// NextRun is the next scheduled trigger time.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().UTC())
}

func (s *Scheduler) runOnce() {
	res, err := s.job.Run(context.Background())
	if errors.Is(err, apperrors.ErrAlreadyRunning) {
		s.logger.Info("Scheduled archival skipped: previous run still in progress")
		return
	}
	if err != nil {
		// Nothing was committed; the next trigger retries.
		return
	}
	s.logger.Debug("Scheduled archival completed", zap.Int("archived", res.ArchivedCount))
}
