package models

import "time"

// Option is one row of the process-wide key/value configuration storage.
type Option struct {
	Key       string    `json:"key" gorm:"column:option_key;type:varchar(191);primaryKey"`
	Value     string    `json:"-" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
