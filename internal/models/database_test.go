package models

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every pooled connection to :memory: is a separate database
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSeedDefaultData_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := SeedDefaultData(db); err != nil {
		t.Fatalf("SeedDefaultData() error = %v", err)
	}
	if err := SeedDefaultData(db); err != nil {
		t.Fatalf("second SeedDefaultData() error = %v", err)
	}

	var count int64
	db.Model(&SystemConfig{}).Count(&count)
	if count != int64(len(DefaultSettings)) {
		t.Errorf("settings rows = %d, expected %d", count, len(DefaultSettings))
	}
}

func TestSeedDefaultData_KeepsExistingValue(t *testing.T) {
	db := openTestDB(t)
	db.Create(&SystemConfig{Key: "ldap_enabled", Value: "1"})

	if err := SeedDefaultData(db); err != nil {
		t.Fatalf("SeedDefaultData() error = %v", err)
	}

	var row SystemConfig
	db.Where("config_key = ?", "ldap_enabled").First(&row)
	if row.Value != "1" {
		t.Errorf("ldap_enabled = %q, expected existing value %q", row.Value, "1")
	}
}

func TestUser_CanAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		user     User
		expected bool
	}{
		{"active", User{Activated: true}, true},
		{"not activated", User{Activated: false}, false},
		{"soft deleted", User{Activated: true, DeletedAt: gorm.DeletedAt{Valid: true}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.CanAuthenticate(); got != tt.expected {
				t.Errorf("CanAuthenticate() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestUser_HasTwoFactorDevice(t *testing.T) {
	if (&User{TwoFactorSecret: "ABC"}).HasTwoFactorDevice() {
		t.Error("unconfirmed secret should not count as an enrolled device")
	}
	if (&User{TwoFactorEnrolled: true}).HasTwoFactorDevice() {
		t.Error("enrolled flag without a secret should not count as a device")
	}
	if !(&User{TwoFactorSecret: "ABC", TwoFactorEnrolled: true}).HasTwoFactorDevice() {
		t.Error("confirmed secret should count as a device")
	}
}
