package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeedRun records one regeneration of a feed file.
type FeedRun struct {
	ID         string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	FeedType   string        `json:"feed_type" gorm:"not null;index"`
	Mode       string        `json:"mode" gorm:"not null"`
	Status     FeedRunStatus `json:"status" gorm:"not null;default:RUNNING"`
	Batches    int           `json:"batches"`
	Records    int           `json:"records"`
	Error      *string       `json:"error"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type FeedRunStatus string

const (
	FeedRunStatusRunning   FeedRunStatus = "RUNNING"
	FeedRunStatusCompleted FeedRunStatus = "COMPLETED"
	FeedRunStatusAborted   FeedRunStatus = "ABORTED"
)

func (r *FeedRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
