package dto

import (
	"time"

	"focusroom-be/pkg/intervention"
)

type PostSignalRequest struct {
	Kind       string     `json:"kind" validate:"required,oneof=distraction fatigue confusion explicit_request focus_timeout"`
	Level      *float64   `json:"level" validate:"required,gte=0,lte=1"`
	ObservedAt *time.Time `json:"observed_at"`
}

type SetContextRequest struct {
	Topic     string     `json:"topic" validate:"required,max=255"`
	Text      string     `json:"text" validate:"required"`
	CreatedAt *time.Time `json:"created_at"`
}

type EvaluateResponse struct {
	Decisions []intervention.Decision `json:"decisions"`
	Fired     int                     `json:"fired"`
}

type DecisionListResponse struct {
	Entries []intervention.DecisionLogEntry `json:"entries"`
	Count   int                             `json:"count"`
}

// DecisionHistoryQuery reads the durable decision log.
type DecisionHistoryQuery struct {
	Action string `query:"action" validate:"omitempty,oneof=fire no_action job_failed"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=200"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
}

type DecisionHistoryResponse struct {
	Entries []intervention.DecisionLogEntry `json:"entries"`
	Total   int64                           `json:"total"`
}

// LearningPatternsResponse summarizes what has fired for a user.
type LearningPatternsResponse struct {
	TotalFires      int64            `json:"total_fires"`
	ByTrigger       map[string]int64 `json:"by_trigger"`
	ByClass         map[string]int64 `json:"by_class"`
	ByTopic         map[string]int64 `json:"by_topic"`
	StruggledTopics []string         `json:"struggled_topics"`
	Insights        []string         `json:"insights"`
}
