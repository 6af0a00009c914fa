package database

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a fresh in-memory database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(GetAllModels()...); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func registerTestDevice(t *testing.T, ds *DeviceService) *Device {
	t.Helper()
	device, err := ds.RegisterDevice(
		"AA:BB:CC:DD:EE:01", "super-secret-device-key", "lobby-display", "looking_glass_portrait", nil)
	if err != nil {
		t.Fatalf("registering device: %v", err)
	}
	return device
}
