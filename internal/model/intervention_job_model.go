package model

import "time"

type InterventionJob struct {
	Id         string    `gorm:"type:varchar(64);primaryKey"`
	UserId     string    `gorm:"type:varchar(64);not null;index"`
	Class      string    `gorm:"type:varchar(20);not null"`
	Kind       string    `gorm:"type:varchar(20);not null"`
	Status     string    `gorm:"type:varchar(20);not null;index"`
	Topic      string    `gorm:"type:varchar(255)"`
	ExternalId string    `gorm:"type:varchar(128)"`
	ResultRef  string    `gorm:"type:text"`
	Error      string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null;index"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (InterventionJob) TableName() string {
	return "intervention_jobs"
}
