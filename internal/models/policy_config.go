package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PolicyConfigID is the fixed key of the single policy row.
const PolicyConfigID = "global"

// DefaultRetentionMonths applies when the stored retention value cannot be parsed.
const DefaultRetentionMonths = 6

// Limit is a positive bound that may also be disabled with "never".
type Limit struct {
	Never bool
	Value int
}

func Never() Limit { return Limit{Never: true} }

func LimitOf(value int) Limit { return Limit{Value: value} }

// Enabled reports whether the limit actually bounds anything.
func (l Limit) Enabled() bool { return !l.Never && l.Value > 0 }

func (l Limit) String() string {
	if l.Never {
		return "never"
	}
	return strconv.Itoa(l.Value)
}

// ParseLimit accepts "never" (any case) or a decimal integer. A non-positive
// integer is treated as "never" since it cannot bound anything.
func ParseLimit(raw string) (Limit, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "never") || raw == "" {
		return Never(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Limit{}, fmt.Errorf("invalid limit %q: %w", raw, err)
	}
	if n <= 0 {
		return Never(), nil
	}
	return LimitOf(n), nil
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.Never {
		return []byte(`"never"`), nil
	}
	return []byte(strconv.Itoa(l.Value)), nil
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseLimit(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("limit must be a number or \"never\": %w", err)
	}
	if n <= 0 {
		*l = Never()
		return nil
	}
	*l = LimitOf(n)
	return nil
}

// AlertThreshold filters non-system notifications by severity rank.
type AlertThreshold string

const (
	ThresholdAll             AlertThreshold = "All"
	ThresholdCriticalAndHigh AlertThreshold = "Critical & High"
	ThresholdCriticalOnly    AlertThreshold = "Critical Only"
)

// ParseAlertThreshold is case- and punctuation-insensitive so both the admin
// UI labels and the enum spellings resolve. Unknown values mean All.
func ParseAlertThreshold(raw string) AlertThreshold {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	switch b.String() {
	case "criticalhigh", "criticalandhigh":
		return ThresholdCriticalAndHigh
	case "criticalonly", "critical":
		return ThresholdCriticalOnly
	default:
		return ThresholdAll
	}
}

// MinRank is the lowest severity rank the threshold lets through.
func (t AlertThreshold) MinRank() int {
	switch ParseAlertThreshold(string(t)) {
	case ThresholdCriticalAndHigh:
		return 1
	case ThresholdCriticalOnly:
		return 2
	default:
		return 0
	}
}

type NotificationSettings struct {
	UrgentAlertsEnabled bool           `json:"urgentAlertsEnabled"`
	NotifyOnApproval    bool           `json:"notifyOnApproval"`
	AlertThreshold      AlertThreshold `json:"alertThreshold"`
}

// PolicyConfig is the deployment-wide security, clinical and notification
// policy. Readers tolerate briefly stale copies.
type PolicyConfig struct {
	ID                    string               `json:"id" db:"id"`
	MaintenanceMode       bool                 `json:"maintenanceMode" db:"maintenance_mode"`
	RequireStepUpAuth     bool                 `json:"requireStepUpAuth" db:"require_step_up_auth"`
	SessionTimeoutMinutes Limit                `json:"sessionTimeoutMinutes" db:"session_timeout_minutes"`
	PasswordExpiryDays    Limit                `json:"passwordExpiryDays" db:"password_expiry_days"`
	MaxLoginAttempts      int                  `json:"maxLoginAttempts" db:"max_login_attempts"`
	RetentionMonths       string               `json:"retentionMonths" db:"retention_months"`
	Notification          NotificationSettings `json:"notification" db:"notification"`
	UpdatedAt             time.Time            `json:"updatedAt" db:"updated_at"`
	UpdatedBy             string               `json:"updatedBy" db:"updated_by"`
}

// Retention returns the archival window in months. configured is false when
// no retention value is stored at all, in which case archival is disabled.
func (p *PolicyConfig) Retention() (months int, configured bool) {
	if p == nil {
		return 0, false
	}
	raw := strings.TrimSpace(p.RetentionMonths)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultRetentionMonths, true
	}
	return n, true
}

// SessionTimeout is zero when sessions never time out.
func (p *PolicyConfig) SessionTimeout() time.Duration {
	if !p.SessionTimeoutMinutes.Enabled() {
		return 0
	}
	return time.Duration(p.SessionTimeoutMinutes.Value) * time.Minute
}

// PasswordExpiry is zero when passwords never expire.
func (p *PolicyConfig) PasswordExpiry() time.Duration {
	if !p.PasswordExpiryDays.Enabled() {
		return 0
	}
	return time.Duration(p.PasswordExpiryDays.Value) * 24 * time.Hour
}

// Clone returns an independent copy safe to hand to another goroutine.
func (p *PolicyConfig) Clone() *PolicyConfig {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// DefaultPolicyConfig is the row seeded on first migration.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		ID:                    PolicyConfigID,
		SessionTimeoutMinutes: LimitOf(30),
		PasswordExpiryDays:    LimitOf(90),
		MaxLoginAttempts:      5,
		RetentionMonths:       strconv.Itoa(DefaultRetentionMonths),
		Notification: NotificationSettings{
			UrgentAlertsEnabled: true,
			NotifyOnApproval:    true,
			AlertThreshold:      ThresholdAll,
		},
	}
}
