package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeedUpload is an upload session opened on the remote catalog for a promoted feed.
type FeedUpload struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	FeedType  string    `json:"feed_type" gorm:"not null;index"`
	UploadID  string    `json:"upload_id" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *FeedUpload) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
