package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"focusroom-be/internal/model"
	"focusroom-be/internal/pkg/logger"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/internal/websocket"
	"focusroom-be/pkg/events"
	pktNats "focusroom-be/pkg/nats"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const notificationDurable = "notif-service-worker"

var ErrNotificationsUnavailable = errors.New("notifications require a database")

// NotificationDelivery pushes real-time updates. Implemented by the websocket Hub.
type NotificationDelivery interface {
	Send(userID string, msg websocket.Message)
}

type notificationTemplate struct {
	Title   string
	Message string
}

// templates replaces the registry table: placeholders are {payload_key}.
var templates = map[string]notificationTemplate{
	events.InterventionFired: {
		Title:   "Help is on the way",
		Message: "Preparing a {kind} about {topic}.",
	},
	events.InterventionReady: {
		Title:   "Your {kind} is ready",
		Message: "Your {kind} on {topic} is ready.",
	},
	events.InterventionFailed: {
		Title:   "Could not prepare {kind}",
		Message: "We couldn't prepare a {kind} on {topic}. {error}",
	},
}

type NotificationService struct {
	repo       contract.NotificationRepository
	subscriber *pktNats.Subscriber
	delivery   NotificationDelivery
	logger     logger.ILogger
}

func NewNotificationService(repo contract.NotificationRepository, sub *pktNats.Subscriber, delivery NotificationDelivery, log logger.ILogger) *NotificationService {
	return &NotificationService{
		repo:       repo,
		subscriber: sub,
		delivery:   delivery,
		logger:     log,
	}
}

// Start begins listening to the event bus. Without NATS, events arrive
// through HandleEvent directly.
func (s *NotificationService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		s.logger.Warn("NOTIFICATION", "No NATS subscriber, using direct delivery", nil)
		return nil
	}
	if err := s.subscriber.Subscribe(ctx, pktNats.SubjectPrefix+">", notificationDurable, s.HandleEvent); err != nil {
		return fmt.Errorf("start notification subscriber: %w", err)
	}
	s.logger.Info("NOTIFICATION", "Notification service started, listening to events.>", nil)
	return nil
}

// HandleEvent stores and pushes the notification for one lifecycle event.
// A storage error is returned so NATS redelivers.
func (s *NotificationService) HandleEvent(ctx context.Context, event events.Event) error {
	tmpl, ok := templates[event.EventType()]
	if !ok {
		s.logger.Debug("NOTIFICATION", "Ignoring event without template", map[string]interface{}{"type": event.EventType()})
		return nil
	}

	userID, _ := event.Payload()["user_id"].(string)
	if userID == "" {
		s.logger.Warn("NOTIFICATION", "Event has no user_id", map[string]interface{}{"type": event.EventType()})
		return nil
	}

	notif := buildNotification(userID, event, tmpl)

	if s.repo != nil {
		if err := s.repo.CreateNotification(ctx, &notif); err != nil {
			s.logger.Error("NOTIFICATION", "Failed to save notification", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			return err
		}
	}

	if s.delivery != nil {
		s.delivery.Send(userID, websocket.Message{
			Type: strings.ToLower(event.EventType()),
			Data: notif,
		})
	}
	return nil
}

func render(text string, payload map[string]interface{}) string {
	for k, v := range payload {
		text = strings.ReplaceAll(text, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return strings.TrimSpace(text)
}

func buildNotification(userID string, event events.Event, tmpl notificationTemplate) model.Notification {
	payload := event.Payload()

	metaJSON, _ := json.Marshal(payload)
	entityID, _ := payload["job_id"].(string)

	createdAt := event.Timestamp()
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return model.Notification{
		ID:         uuid.New(),
		UserID:     userID,
		TypeCode:   event.EventType(),
		EntityType: "intervention_job",
		EntityID:   entityID,
		Title:      render(tmpl.Title, payload),
		Message:    render(tmpl.Message, payload),
		Metadata:   datatypes.JSON(metaJSON),
		CreatedAt:  createdAt,
	}
}

func (s *NotificationService) GetNotifications(ctx context.Context, userID string, limit, offset int) ([]model.Notification, int64, error) {
	if s.repo == nil {
		return nil, 0, ErrNotificationsUnavailable
	}
	return s.repo.GetNotificationsByUserID(ctx, userID, limit, offset)
}

func (s *NotificationService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	if s.repo == nil {
		return 0, ErrNotificationsUnavailable
	}
	return s.repo.GetUnreadCount(ctx, userID)
}

func (s *NotificationService) MarkAsRead(ctx context.Context, userID string, id uuid.UUID) error {
	if s.repo == nil {
		return ErrNotificationsUnavailable
	}
	return s.repo.MarkAsRead(ctx, userID, id)
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) error {
	if s.repo == nil {
		return ErrNotificationsUnavailable
	}
	return s.repo.MarkAllAsRead(ctx, userID)
}
