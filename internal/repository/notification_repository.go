package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateBatch inserts notifications in one statement.
func (r *NotificationRepository) CreateBatch(ctx context.Context, items []models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	builder := psql.Insert("notifications").Columns("id", "user_id", "type", "title", "message", "read", "created_at")
	for i := range items {
		n := &items[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		builder = builder.Values(n.ID, n.UserID, n.Type, n.Title, n.Message, false, n.CreatedAt)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build notification insert: %w", err)
	}
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

// List returns a recipient's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := sq.And{sq.Eq{"user_id": filter.UserID}}
	if filter.UnreadOnly {
		where = append(where, sq.Eq{"read": false})
	}
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	query, args, err := psql.Select("id", "user_id", "type", "title", "message", "read", "created_at", "read_at").
		From("notifications").
		Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build notification list: %w", err)
	}
	var items []models.Notification
	if err := sqlx.SelectContext(ctx, conn(ctx, r.db), &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("notifications").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build notification count: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns the number of unread notifications of a user.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, conn(ctx, r.db), &total, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}

// MarkRead marks one notification of userID as read. It reports false when no such notification exists.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	const query = `UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return n == 1, nil
}

// MarkAllRead marks every unread notification of userID as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE notifications SET read = TRUE, read_at = $2 WHERE user_id = $1 AND read = FALSE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}
