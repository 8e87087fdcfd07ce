package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
	appErrors "github.com/noah-isme/campus-invoicing-api/pkg/errors"
)

type notificationRepository interface {
	CreateBatch(ctx context.Context, items []models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

type recipientResolver interface {
	RecipientIDs(ctx context.Context, q models.RecipientQuery) ([]string, error)
}

// NotificationService inserts in-app notifications and serves them to their recipients.
type NotificationService struct {
	repo       notificationRepository
	recipients recipientResolver
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(repo notificationRepository, recipients recipientResolver, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, recipients: recipients, metrics: metrics, logger: logger, now: time.Now}
}

func validNotificationType(t models.NotificationType) bool {
	switch t {
	case models.NotificationInfo, models.NotificationSuccess, models.NotificationWarning, models.NotificationError:
		return true
	}
	return false
}

// Notify sends one notification to one user.
func (s *NotificationService) Notify(ctx context.Context, userID string, typ models.NotificationType, title, message string) error {
	_, err := s.NotifyMany(ctx, []string{userID}, typ, title, message)
	return err
}

// NotifyMany sends the same notification to every user in userIDs and returns how many were inserted.
func (s *NotificationService) NotifyMany(ctx context.Context, userIDs []string, typ models.NotificationType, title, message string) (int, error) {
	if !validNotificationType(typ) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "unknown notification type")
	}
	if strings.TrimSpace(title) == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "notification title is required")
	}
	seen := make(map[string]struct{}, len(userIDs))
	items := make([]models.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, models.Notification{UserID: id, Type: typ, Title: title, Message: message, CreatedAt: s.now().UTC()})
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := s.repo.CreateBatch(ctx, items); err != nil {
		return 0, appErrors.Internal(err, "failed to create notifications")
	}
	return len(items), nil
}

// NotifyRole notifies every active user holding role, restricted to campusID when given.
func (s *NotificationService) NotifyRole(ctx context.Context, role models.UserRole, campusID *string, typ models.NotificationType, title, message string) (int, error) {
	ids, err := s.recipients.RecipientIDs(ctx, models.RecipientQuery{Role: role, CampusID: campusID})
	if err != nil {
		return 0, appErrors.Internal(err, "failed to resolve notification recipients")
	}
	return s.NotifyMany(ctx, ids, typ, title, message)
}

// BestEffort runs a follow-up whose failure must not undo the caller's committed change.
// The failure is logged, counted and reported in the returned SideEffect.
func (s *NotificationService) BestEffort(ctx context.Context, name string, fn func(ctx context.Context) error) models.SideEffect {
	if err := fn(ctx); err != nil {
		s.logger.Warn("side effect failed", zap.String("side_effect", name), zap.Error(err))
		s.metrics.RecordSideEffectFailure(name)
		return models.SideEffect{Name: name, OK: false, Error: err.Error()}
	}
	return models.SideEffect{Name: name, OK: true}
}

// List returns the notifications of userID.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	if filter.UserID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "recipient required")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// UnreadCount returns how many unread notifications userID has.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count notifications")
	}
	return n, nil
}

// MarkRead marks one notification as read. Only its recipient may do so.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	ok, err := s.repo.MarkRead(ctx, notificationID, userID, s.now().UTC())
	if err != nil {
		return appErrors.Internal(err, "failed to mark notification read")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead marks every notification of userID as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to mark notifications read")
	}
	return n, nil
}
