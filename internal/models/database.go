package models

import (
	"fmt"

	"github.com/huangang/gatehouse/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database.
func Open(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table owned by the service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&SystemConfig{},
		&LoginAttempt{},
		&AuthEvent{},
		&SchedulerLock{},
	)
}

// DefaultSettings are the rows seeded into system_configs on first start.
var DefaultSettings = []SystemConfig{
	{Key: "site_name", Value: "Gatehouse", Type: "string", Group: "general", Label: "Site Name"},
	{Key: "login_common_disabled", Value: "0", Type: "bool", Group: "login", Label: "Disable Form Login"},
	{Key: "login_remote_user_enabled", Value: "0", Type: "bool", Group: "login", Label: "Trust Remote User Header"},
	{Key: "login_remote_user_custom_logout_url", Value: "", Type: "string", Group: "login", Label: "Remote User Logout URL"},
	{Key: "ldap_enabled", Value: "0", Type: "bool", Group: "ldap", Label: "Enable LDAP Authentication"},
	{Key: "ldap_pw_sync", Value: "1", Type: "bool", Group: "ldap", Label: "Cache LDAP Passwords Locally"},
	{Key: "ldap_host", Value: "", Type: "string", Group: "ldap", Label: "LDAP Server Host"},
	{Key: "ldap_port", Value: "389", Type: "int", Group: "ldap", Label: "LDAP Server Port"},
	{Key: "ldap_base_dn", Value: "", Type: "string", Group: "ldap", Label: "LDAP Base DN"},
	{Key: "ldap_bind_dn", Value: "", Type: "string", Group: "ldap", Label: "LDAP Bind DN"},
	{Key: "ldap_bind_password", Value: "", Type: "string", Group: "ldap", Label: "LDAP Bind Password"},
	{Key: "ldap_user_filter", Value: "(uid=%s)", Type: "string", Group: "ldap", Label: "LDAP User Filter"},
	{Key: "ldap_use_ssl", Value: "0", Type: "bool", Group: "ldap", Label: "Use SSL/TLS"},
	{Key: "ldap_email_attr", Value: "mail", Type: "string", Group: "ldap", Label: "LDAP Email Attribute"},
	{Key: "ldap_fname_attr", Value: "givenName", Type: "string", Group: "ldap", Label: "LDAP First Name Attribute"},
	{Key: "ldap_lname_attr", Value: "sn", Type: "string", Group: "ldap", Label: "LDAP Last Name Attribute"},
	{Key: "two_factor_enabled", Value: "0", Type: "int", Group: "two_factor", Label: "Two-Factor Mode (0 off, 1 optional, 2 required)"},
	{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "Auth Event Retention Days"},
}

// SeedDefaultData inserts any missing default settings.
func SeedDefaultData(db *gorm.DB) error {
	for _, cfg := range DefaultSettings {
		var count int64
		db.Model(&SystemConfig{}).Where("config_key = ?", cfg.Key).Count(&count)
		if count == 0 {
			row := cfg
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
