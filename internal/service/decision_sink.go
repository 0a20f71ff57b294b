package service

import (
	"context"
	"encoding/json"

	"focusroom-be/internal/pkg/logger"
	"focusroom-be/pkg/intervention"
)

// DecisionTopic carries every decision log entry to the persistence consumer.
const DecisionTopic = "intervention.decisions"

// DecisionSink forwards recorded decisions onto the in-process bus so the
// database write never happens under a user's lock.
type DecisionSink struct {
	publisher IPublisherService
	logger    logger.ILogger
}

var _ intervention.DecisionSink = (*DecisionSink)(nil)

func NewDecisionSink(publisher IPublisherService, log logger.ILogger) *DecisionSink {
	return &DecisionSink{publisher: publisher, logger: log}
}

func (s *DecisionSink) LogDecision(entry intervention.DecisionLogEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("DECISION_SINK", "Failed to marshal decision", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := s.publisher.Publish(context.Background(), payload); err != nil {
		s.logger.Warn("DECISION_SINK", "Failed to publish decision", map[string]interface{}{
			"user_id": entry.UserID,
			"error":   err.Error(),
		})
	}
}
