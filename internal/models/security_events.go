package models

import "time"

type SecurityEventType string

const (
	EventAuthRejected   SecurityEventType = "auth_rejected"
	EventLoginFailed    SecurityEventType = "login_failed"
	EventAccountLocked  SecurityEventType = "account_locked"
	EventLoginSucceeded SecurityEventType = "login_succeeded"
	EventRateLimited    SecurityEventType = "rate_limited"
)

// SecurityEvent is append-only security telemetry, partitioned by event
// bucket and day.
type SecurityEvent struct {
	EventBucket int               `json:"eventBucket" db:"event_bucket"`
	EventDate   string            `json:"eventDate" db:"event_date"`
	EventTime   time.Time         `json:"eventTime" db:"event_time"`
	EventID     string            `json:"eventId" db:"event_id"`
	EventType   SecurityEventType `json:"eventType" db:"event_type"`
	IdentityID  string            `json:"identityId,omitempty" db:"identity_id"`
	Email       string            `json:"email,omitempty" db:"email"`
	Reason      string            `json:"reason,omitempty" db:"reason"`
	Fingerprint string            `json:"fingerprint,omitempty" db:"fingerprint"`
}
