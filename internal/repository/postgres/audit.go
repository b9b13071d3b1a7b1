package postgres

import (
	"context"
	"fmt"

	"policy-core/internal/models"
)

func insertAudit(ctx context.Context, q querier, e models.AuditEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO audit_log (id, entity, entity_id, action, changed_by, old_value, new_value, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Entity, e.EntityID, e.Action, e.ChangedBy, nullJSON(e.OldValue), nullJSON(e.NewValue), e.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func insertNotification(ctx context.Context, q querier, n models.Notification) error {
	_, err := q.Exec(ctx, `
		INSERT INTO notifications (id, type, title, description, classification_reason, related_report_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		n.ID, string(n.Type), n.Title, n.Description, n.ClassificationReason, n.RelatedReportID, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// nullJSON stores an empty document as SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
