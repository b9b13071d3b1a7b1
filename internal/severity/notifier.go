package severity

import (
	"context"
	"fmt"
	"time"

	"policy-core/internal/metrics"
	"policy-core/internal/models"
	"policy-core/internal/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n models.Notification) error
}

// Publisher fans persisted notifications out to other consumers.
type Publisher interface {
	PublishNotification(ctx context.Context, n models.Notification) error
}

// ClassificationRecord is one classification decision for analytics.
type ClassificationRecord struct {
	ReportID     string
	ReporterType string
	Severity     string
	Reason       string
	SymptomCount int
	Notified     bool
	ClassifiedAt time.Time
}

// AnalyticsSink stores classification decisions.
type AnalyticsSink interface {
	RecordClassification(ctx context.Context, rec ClassificationRecord) error
}

// Outcome is the result of classifying a new report. Notification is nil
// when the gate suppressed it.
type Outcome struct {
	Classification Classification       `json:"classification"`
	Notification   *models.Notification `json:"notification,omitempty"`
}

type Notifier struct {
	store     NotificationStore
	publisher Publisher
	analytics AnalyticsSink
	policies  policy.Provider
	metrics   *metrics.Collector
	now       func() time.Time
	logger    *zap.Logger
}

// NewNotifier wires the notifier. publisher and analytics may be nil.
func NewNotifier(store NotificationStore, publisher Publisher, analytics AnalyticsSink, policies policy.Provider, m *metrics.Collector, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		store:     store,
		publisher: publisher,
		analytics: analytics,
		policies:  policies,
		metrics:   m,
		now:       time.Now,
		logger:    logger,
	}
}

// ClassifyAndNotify classifies a newly submitted report and stores the
// resulting notification when the policy lets it through.
func (n *Notifier) ClassifyAndNotify(ctx context.Context, r models.Report) (Outcome, error) {
	c := Classify(r)
	n.metrics.Classified(string(c.Severity))

	cfg, err := n.policies.Current(ctx)
	if err != nil {
		return Outcome{Classification: c}, err
	}

	note := models.Notification{
		Type:                 models.NotificationTypeFor(c.Severity),
		Title:                c.Title,
		Description:          c.Description,
		ClassificationReason: c.Reason,
		RelatedReportID:      r.ID,
	}
	delivered, err := n.deliver(ctx, cfg, &note)

	n.recordAnalytics(ctx, ClassificationRecord{
		ReportID:     r.ID,
		ReporterType: string(r.ReporterType),
		Severity:     string(c.Severity),
		Reason:       c.Reason,
		SymptomCount: len(r.Symptoms),
		Notified:     delivered,
		ClassifiedAt: n.now().UTC(),
	})

	out := Outcome{Classification: c}
	if delivered {
		out.Notification = &note
	}
	return out, err
}

// ClassifyUpdateAndNotify handles an administrative edit of old.
func (n *Notifier) ClassifyUpdateAndNotify(ctx context.Context, old models.Report, u models.ReportUpdate) (*models.Notification, error) {
	note := ClassifyUpdate(old, u)
	if note == nil {
		return nil, nil
	}
	cfg, err := n.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	delivered, err := n.deliver(ctx, cfg, note)
	if err != nil || !delivered {
		return nil, err
	}
	return note, nil
}

func (n *Notifier) deliver(ctx context.Context, cfg *models.PolicyConfig, note *models.Notification) (bool, error) {
	if !Gate(cfg.Notification, note.Type) {
		n.metrics.Notification(string(note.Type), false)
		n.logger.Debug("Notification suppressed by policy",
			zap.String("type", string(note.Type)),
			zap.String("report_id", note.RelatedReportID),
		)
		return false, nil
	}

	note.ID = uuid.NewString()
	note.CreatedAt = n.now().UTC()
	if err := n.store.InsertNotification(ctx, *note); err != nil {
		return false, fmt.Errorf("failed to store notification: %w", err)
	}
	n.metrics.Notification(string(note.Type), true)

	if n.publisher != nil {
		if err := n.publisher.PublishNotification(ctx, *note); err != nil {
			n.logger.Warn("Failed to publish notification",
				zap.String("notification_id", note.ID),
				zap.Error(err),
			)
		}
	}
	return true, nil
}

func (n *Notifier) recordAnalytics(ctx context.Context, rec ClassificationRecord) {
	if n.analytics == nil {
		return
	}
	if err := n.analytics.RecordClassification(ctx, rec); err != nil {
		n.logger.Warn("Failed to record classification analytics",
			zap.String("report_id", rec.ReportID),
			zap.Error(err),
		)
	}
}
