package specification

import (
	"time"

	"gorm.io/gorm"
)

// StatusIn filters jobs by lifecycle status.
type StatusIn struct {
	Statuses []string
}

func (s StatusIn) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status IN ?", s.Statuses)
}

// ByAction filters decision logs by action (fire, no_action, job_failed).
type ByAction struct {
	Action string
}

func (s ByAction) Apply(db *gorm.DB) *gorm.DB {
	if s.Action == "" {
		return db
	}
	return db.Where("action = ?", s.Action)
}

// OlderThan matches rows whose timestamp column is before Before.
type OlderThan struct {
	Column string
	Before time.Time
}

func (s OlderThan) Apply(db *gorm.DB) *gorm.DB {
	return db.Where(s.Column+" < ?", s.Before)
}
