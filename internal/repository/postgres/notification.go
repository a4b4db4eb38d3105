package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/repository"
)

type notificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db DBTX) repository.NotificationRepository {
	return &notificationRepository{db: db}
}

const notificationColumns = `id, user_id, plan_id, event, message, status, error, attempts, sent_at, created_at, updated_at`

func scanNotification(row rowScanner) (*models.Notification, error) {
	n := &models.Notification{}
	var planID sql.NullInt64
	var sentAt sql.NullTime
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&planID,
		&n.Event,
		&n.Message,
		&n.Status,
		&n.Error,
		&n.Attempts,
		&sentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.PlanID = planID.Int64
	n.SentAt = timePtr(sentAt)
	return n, nil
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	query := `
		INSERT INTO notifications (user_id, plan_id, event, message, status, error, attempts, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	out := *n
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	out.UpdatedAt = out.CreatedAt

	err := r.db.QueryRowContext(ctx, query,
		out.UserID,
		sql.NullInt64{Int64: out.PlanID, Valid: out.PlanID != 0},
		out.Event,
		out.Message,
		out.Status,
		out.Error,
		out.Attempts,
		out.SentAt,
		out.CreatedAt,
		out.UpdatedAt,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return &out, nil
}

func (r *notificationRepository) Update(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	query := `
		UPDATE notifications
		SET status = $2, error = $3, attempts = $4, sent_at = $5, updated_at = $6
		WHERE id = $1`

	out := *n
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query,
		out.ID,
		out.Status,
		out.Error,
		out.Attempts,
		out.SentAt,
		out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, fmt.Errorf("failed to update notification %d: %w", out.ID, err)
	}

	return &out, nil
}

func (r *notificationRepository) list(ctx context.Context, query string, args ...any) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return out, nil
}

func (r *notificationRepository) ListRetryable(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = $1 AND attempts < $2
		ORDER BY id` + limitClause(limit, 0)
	return r.list(ctx, query, models.NotificationFailed, models.MaxNotificationAttempts)
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE user_id = $1
		ORDER BY id DESC` + limitClause(limit, 0)
	return r.list(ctx, query, userID)
}
