package models

import "time"

type NotificationType string

const (
	NotificationInfo     NotificationType = "info"
	NotificationWarning  NotificationType = "warning"
	NotificationUrgent   NotificationType = "urgent"
	NotificationApproved NotificationType = "approved"
	NotificationSystem   NotificationType = "system"
)

// NotificationTypeFor maps a report severity to its notification type.
func NotificationTypeFor(s Severity) NotificationType {
	switch s.Rank() {
	case 2:
		return NotificationUrgent
	case 1:
		return NotificationWarning
	default:
		return NotificationInfo
	}
}

// Rank orders the severity-bearing notification types. approved and system
// rank as info; the gate handles them before consulting rank.
func (t NotificationType) Rank() int {
	switch t {
	case NotificationUrgent:
		return 2
	case NotificationWarning:
		return 1
	default:
		return 0
	}
}

type Notification struct {
	ID                   string           `json:"id" db:"id"`
	Type                 NotificationType `json:"type" db:"type"`
	Title                string           `json:"title" db:"title"`
	Description          string           `json:"description" db:"description"`
	ClassificationReason string           `json:"classificationReason,omitempty" db:"classification_reason"`
	RelatedReportID      string           `json:"relatedReportId,omitempty" db:"related_report_id"`
	Read                 bool             `json:"read" db:"read"`
	CreatedAt            time.Time        `json:"createdAt" db:"created_at"`
}
