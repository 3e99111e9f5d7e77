package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/steward/pkg/models"
)

// EnqueueNotification stores a notification for later delivery.
func (s *Store) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if n.UserID == "" || n.Message == "" {
		return fmt.Errorf("user id and message are required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_notifications (id, task_id, user_id, platform, message, created_at, delivered, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		nullableString(n.TaskID),
		n.UserID,
		string(n.Platform),
		n.Message,
		n.CreatedAt.UTC(),
		boolToInt(n.Delivered),
		nullableTime(n.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// PendingNotifications returns undelivered notifications for a
// platform, oldest first.
func (s *Store) PendingNotifications(ctx context.Context, platform models.Platform) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, platform, message, created_at, delivered, delivered_at
		FROM scheduled_notifications
		WHERE delivered = 0 AND platform = ?
		ORDER BY created_at ASC
	`, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return pending, nil
}

// MarkNotificationDelivered flags a notification as delivered.
func (s *Store) MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET delivered = 1, delivered_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return requireRow(result)
}

func scanNotification(sc scanner) (*models.Notification, error) {
	var n models.Notification
	var taskID sql.NullString
	var platform string
	var delivered int
	var deliveredAt sql.NullTime

	err := sc.Scan(
		&n.ID,
		&taskID,
		&n.UserID,
		&platform,
		&n.Message,
		&n.CreatedAt,
		&delivered,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	n.TaskID = taskID.String
	n.Platform = models.Platform(platform)
	n.Delivered = delivered != 0
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.Time
	}
	return &n, nil
}
