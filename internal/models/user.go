package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User represents a person who can sign in
type User struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Username          string         `gorm:"uniqueIndex;size:191;not null" json:"username"`
	Password          string         `gorm:"size:255" json:"-"` // bcrypt hash, empty for directory-only users
	Email             string         `gorm:"size:255" json:"email"`
	FirstName         string         `gorm:"size:191" json:"first_name"`
	LastName          string         `gorm:"size:191" json:"last_name"`
	Activated         bool           `gorm:"not null" json:"activated"`
	LDAPImport        bool           `gorm:"column:ldap_import;not null" json:"ldap_import"`
	TwoFactorSecret   string         `gorm:"size:64" json:"-"`
	TwoFactorEnrolled bool           `gorm:"not null" json:"two_factor_enrolled"`
	TwoFactorOptin    bool           `gorm:"not null" json:"two_factor_optin"`
	LastLogin         *time.Time     `json:"last_login"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

// CanAuthenticate reports whether the account may start a session.
func (u *User) CanAuthenticate() bool {
	return u.Activated && !u.DeletedAt.Valid
}

// HasTwoFactorDevice reports whether a confirmed authenticator is attached.
func (u *User) HasTwoFactorDevice() bool {
	return u.TwoFactorSecret != "" && u.TwoFactorEnrolled
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
