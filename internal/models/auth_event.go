package models

import "time"

// AuthEvent records one sign-in related event
type AuthEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index" json:"level"` // info, warning, error
	Event     string    `gorm:"size:50;index" json:"event"`
	Username  string    `gorm:"size:191;index" json:"username"`
	UserID    *uint     `json:"user_id"`
	Source    string    `gorm:"size:50" json:"source"` // trusted_header, directory, local
	IP        string    `gorm:"size:50" json:"ip"`
	UserAgent string    `gorm:"size:500" json:"user_agent"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuthEvent) TableName() string { return "auth_events" }
