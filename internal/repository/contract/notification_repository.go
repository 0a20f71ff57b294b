package contract

import (
	"context"
	"errors"

	"focusroom-be/internal/model"

	"github.com/google/uuid"
)

var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification *model.Notification) error
	GetNotificationsByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Notification, int64, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	MarkAsRead(ctx context.Context, userID string, notificationID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID string) error
}
