// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated and seeded in-memory sqlite database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every pooled connection to :memory: is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := models.SeedDefaultData(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

// SetSetting overwrites one system_configs row.
func SetSetting(t testing.TB, db *gorm.DB, key, value string) {
	t.Helper()
	res := db.Model(&models.SystemConfig{}).Where("config_key = ?", key).Update("value", value)
	if res.Error != nil {
		t.Fatalf("set %s: %v", key, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Create(&models.SystemConfig{Key: key, Value: value}).Error; err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
}

// CreateUser inserts an activated local user with the given plaintext password.
func CreateUser(t testing.TB, db *gorm.DB, username, password string) *models.User {
	t.Helper()
	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Activated: true,
	}
	if password != "" {
		hash, err := utils.HashPassword(password)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		user.Password = hash
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}
