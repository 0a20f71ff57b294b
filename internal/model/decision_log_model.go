package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DecisionLog is the durable copy of the scheduler's in-memory decision ring.
type DecisionLog struct {
	Id           uuid.UUID                   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Seq          int64                       `gorm:"not null"`
	UserId       string                      `gorm:"type:varchar(64);not null;index:idx_decision_logs_user_ts,priority:1"`
	Class        string                      `gorm:"type:varchar(20);not null"`
	Action       string                      `gorm:"type:varchar(20);not null;index"`
	Kind         string                      `gorm:"type:varchar(20)"`
	TriggerKind  string                      `gorm:"type:varchar(20)"`
	Topic        string                      `gorm:"type:varchar(255)"`
	Reason       string                      `gorm:"type:text;not null"`
	Evidence     datatypes.JSON              `gorm:"type:jsonb"`
	Alternatives datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Timestamp    time.Time                   `gorm:"not null;index:idx_decision_logs_user_ts,priority:2"`
	CreatedAt    time.Time                   `gorm:"autoCreateTime"`
}

func (DecisionLog) TableName() string {
	return "decision_logs"
}
