package models

import (
	"encoding/json"
	"time"
)

// Audit entities and actions written by this core.
const (
	AuditEntityPolicy = "policy_config"
	AuditEntitySystem = "system"

	AuditActionUpdate  = "update"
	AuditActionArchive = "archive_reports"

	AuditActorSystem = "system"
)

// AuditEntry is an append-only change record.
type AuditEntry struct {
	ID        string          `json:"id" db:"id"`
	Entity    string          `json:"entity" db:"entity"`
	EntityID  string          `json:"entityId" db:"entity_id"`
	Action    string          `json:"action" db:"action"`
	ChangedBy string          `json:"changedBy" db:"changed_by"`
	OldValue  json.RawMessage `json:"oldValue,omitempty" db:"old_value"`
	NewValue  json.RawMessage `json:"newValue,omitempty" db:"new_value"`
	ChangedAt time.Time       `json:"changedAt" db:"changed_at"`
}
