package postgres

import (
	"context"

	"policy-core/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) InsertNotification(ctx context.Context, n models.Notification) error {
	return insertNotification(ctx, r.pool, n)
}
