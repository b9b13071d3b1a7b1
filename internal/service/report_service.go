package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"policy-core/internal/models"
	"policy-core/internal/severity"
	"policy-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// ReportRepository stores the three report variants.
type ReportRepository interface {
	Create(ctx context.Context, r models.Report) error
	Get(ctx context.Context, rt models.ReporterType, id string) (*models.Report, error)
	ApplyUpdate(ctx context.Context, rt models.ReporterType, id string, u models.ReportUpdate) (*models.Report, error)
}

// Submission is what an intake caller gets back.
type Submission struct {
	Report         models.Report           `json:"report"`
	Classification severity.Classification `json:"classification"`
	Notification   *models.Notification    `json:"notification,omitempty"`
}

// Review is the result of an administrative edit.
type Review struct {
	Report       models.Report        `json:"report"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// ReportService handles intake and review of adverse-event reports.
type ReportService struct {
	reports  ReportRepository
	notifier *severity.Notifier
	now      func() time.Time
	logger   *zap.Logger
}

func NewReportService(reports ReportRepository, notifier *severity.Notifier, logger *zap.Logger) *ReportService {
	return &ReportService{
		reports:  reports,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
	}
}

// Submit stores a new report with its classified severity, then raises the
// notification the policy allows. A report that was stored is never
// rejected because notification failed.
func (s *ReportService) Submit(ctx context.Context, r models.Report) (*Submission, error) {
	if !r.ReporterType.Valid() {
		return nil, fmt.Errorf("%w: unknown reporter type %q", ErrInvalidInput, r.ReporterType)
	}

	now := s.now().UTC()
	r.ID = uuid.NewString()
	if strings.TrimSpace(r.ReferenceID) == "" {
		r.ReferenceID = referenceID(now)
	}
	r.Status = models.StatusNew
	r.AdminNotes = ""
	r.CreatedAt = now
	r.UpdatedAt = now

	c := severity.Classify(r)
	r.Severity = c.Severity

	if err := s.reports.Create(ctx, r); err != nil {
		s.logger.Error("Failed to store report",
			util.String("reporter_type", string(r.ReporterType)),
			util.ErrorField(err),
		)
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	sub := &Submission{Report: r, Classification: c}
	outcome, err := s.notifier.ClassifyAndNotify(ctx, r)
	if err != nil {
		s.logger.Error("Report stored but notification failed",
			util.String("report_id", r.ID),
			util.ErrorField(err),
		)
		return sub, nil
	}
	sub.Notification = outcome.Notification

	s.logger.Info("Report submitted",
		util.String("report_id", r.ID),
		util.String("reporter_type", string(r.ReporterType)),
		util.String("severity", string(c.Severity)),
		util.Bool("notified", outcome.Notification != nil),
	)
	return sub, nil
}

// Update applies an administrative edit and raises the notification the
// change calls for.
func (s *ReportService) Update(ctx context.Context, rt models.ReporterType, id string, u models.ReportUpdate) (*Review, error) {
	if !rt.Valid() {
		return nil, fmt.Errorf("%w: unknown reporter type %q", ErrInvalidInput, rt)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}
	if err := validateUpdate(&u); err != nil {
		return nil, err
	}

	old, err := s.reports.ApplyUpdate(ctx, rt, id, u)
	if err != nil {
		return nil, err
	}

	updated := *old
	if u.Status != nil {
		updated.Status = *u.Status
	}
	if u.Severity != nil {
		updated.Severity = *u.Severity
	}
	if u.AdminNotes != nil {
		updated.AdminNotes = *u.AdminNotes
	}
	updated.UpdatedAt = s.now().UTC()

	review := &Review{Report: updated}
	note, err := s.notifier.ClassifyUpdateAndNotify(ctx, *old, u)
	if err != nil {
		s.logger.Error("Report updated but notification failed",
			util.String("report_id", id),
			util.ErrorField(err),
		)
		return review, nil
	}
	review.Notification = note
	return review, nil
}

func validateUpdate(u *models.ReportUpdate) error {
	if u.Status != nil {
		st := u.Status.Normalize()
		switch st {
		case models.StatusNew, models.StatusUnderReview, models.StatusApproved, models.StatusClosed:
			u.Status = &st
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *u.Status)
		}
	}
	if u.Severity != nil {
		sev := models.Severity(strings.ToLower(strings.TrimSpace(string(*u.Severity))))
		switch sev {
		case models.SeverityInfo, models.SeverityWarning, models.SeverityUrgent:
			u.Severity = &sev
		default:
			return fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, *u.Severity)
		}
	}
	if u.AdminNotes != nil {
		notes := util.CleanText(*u.AdminNotes)
		u.AdminNotes = &notes
	}
	return nil
}

// referenceID is the human-facing case number, e.g. AE-20240601-1A2B3C.
func referenceID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("AE-%s-%s", now.Format("20060102"), suffix)
}
