package scylla

import (
	"context"
	"fmt"

	"policy-core/internal/models"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

type SecurityEventRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewSecurityEventRepository(client *ScyllaClient, logger *zap.Logger) *SecurityEventRepository {
	return &SecurityEventRepository{client: client, logger: logger}
}

func (r *SecurityEventRepository) InsertSecurityEvent(ctx context.Context, evt models.SecurityEvent) error {
	id, err := gocql.ParseUUID(evt.EventID)
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	query := r.client.Query(insertSecurityEventCQL,
		evt.EventBucket, evt.EventDate, evt.EventTime, id, string(evt.EventType),
		evt.IdentityID, evt.Email, evt.Reason, evt.Fingerprint)

	if err := r.client.ExecuteWithRetry(ctx, query, 2); err != nil {
		r.logger.Error("Failed to insert security event",
			zap.String("event_type", string(evt.EventType)),
			zap.Int("event_bucket", evt.EventBucket),
			zap.Error(err))
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// ListSecurityEvents returns the newest events of one bucket and day.
func (r *SecurityEventRepository) ListSecurityEvents(ctx context.Context, bucket int, date string, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	iter := r.client.Query(listSecurityEventsCQL, bucket, date, limit).WithContext(ctx).Iter()

	var (
		out       []models.SecurityEvent
		evt       models.SecurityEvent
		id        gocql.UUID
		eventType string
	)
	for iter.Scan(&evt.EventBucket, &evt.EventDate, &evt.EventTime, &id, &eventType,
		&evt.IdentityID, &evt.Email, &evt.Reason, &evt.Fingerprint) {
		evt.EventID = id.String()
		evt.EventType = models.SecurityEventType(eventType)
		out = append(out, evt)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return out, nil
}
