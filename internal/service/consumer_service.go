package service

import (
	"context"
	"encoding/json"
	"time"

	"focusroom-be/internal/pkg/logger"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/pkg/intervention"

	"github.com/ThreeDotsLabs/watermill/message"
)

const persistAttempts = 3

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService persists decision log entries published by DecisionSink.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	repo       contract.DecisionLogRepository
	logger     logger.ILogger
	backoff    time.Duration
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	repo contract.DecisionLogRepository,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		repo:       repo,
		logger:     log,
		backoff:    200 * time.Millisecond,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

// processMessage always acks: a bad payload never parses, and a database
// outage is retried a few times here instead of by redelivery.
func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var entry intervention.DecisionLogEntry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		cs.logger.Error("CONSUMER", "Failed to unmarshal decision", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		return
	}
	if cs.repo == nil {
		return
	}

	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = cs.repo.Create(ctx, entry); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cs.backoff * time.Duration(attempt)):
		}
	}
	cs.logger.Error("CONSUMER", "Dropping decision after retries", map[string]interface{}{
		"user_id": entry.UserID,
		"class":   string(entry.Class),
		"error":   err.Error(),
	})
}
