package models

import "time"

// LoginAttempt is the database-backed failed-attempt counter for one throttle key.
type LoginAttempt struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ThrottleKey string    `gorm:"uniqueIndex;size:255;not null" json:"throttle_key"`
	Attempts    int64     `gorm:"not null" json:"attempts"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (LoginAttempt) TableName() string { return "login_attempts" }
