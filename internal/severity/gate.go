package severity

import (
	"fmt"

	"policy-core/internal/models"
	"policy-core/internal/util"
)

// Gate decides whether a notification of type t is materialized under s.
func Gate(s models.NotificationSettings, t models.NotificationType) bool {
	switch t {
	case models.NotificationSystem:
		return true
	case models.NotificationApproved:
		return s.NotifyOnApproval
	case models.NotificationUrgent:
		if !s.UrgentAlertsEnabled {
			return false
		}
	}
	return t.Rank() >= s.AlertThreshold.MinRank()
}

// ClassifyUpdate returns the notification an administrative edit warrants,
// or nil. Approval wins over urgent escalation, which wins over closure.
func ClassifyUpdate(old models.Report, u models.ReportUpdate) *models.Notification {
	ref := util.FirstNonEmpty(old.ReferenceID, old.ID)
	reporter := old.ReporterType.DisplayName()
	oldStatus := old.Status.Normalize()

	if u.Status != nil && u.Status.Normalize() == models.StatusApproved && oldStatus != models.StatusApproved {
		return &models.Notification{
			Type:                 models.NotificationApproved,
			Title:                util.CleanText(fmt.Sprintf("Report Approved — %s", ref)),
			Description:          util.CleanText(fmt.Sprintf("%s report %s has been approved.", reporter, ref)),
			ClassificationReason: "Status changed to approved",
			RelatedReportID:      old.ID,
		}
	}

	if u.Severity != nil && *u.Severity == models.SeverityUrgent && old.Severity != models.SeverityUrgent {
		return &models.Notification{
			Type:                 models.NotificationUrgent,
			Title:                util.CleanText(fmt.Sprintf("Report Escalated to Urgent — %s", ref)),
			Description:          util.CleanText(fmt.Sprintf("%s report %s was escalated to urgent severity.", reporter, ref)),
			ClassificationReason: "Severity escalated to urgent",
			RelatedReportID:      old.ID,
		}
	}

	if u.Status != nil && u.Status.Normalize() == models.StatusClosed && oldStatus != models.StatusClosed {
		return &models.Notification{
			Type:                 models.NotificationSystem,
			Title:                util.CleanText(fmt.Sprintf("Report Closed — %s", ref)),
			Description:          util.CleanText(fmt.Sprintf("%s report %s has been closed.", reporter, ref)),
			ClassificationReason: "Status changed to closed",
			RelatedReportID:      old.ID,
		}
	}
	return nil
}
