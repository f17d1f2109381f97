package services

import (
	"os"
	"testing"

	"github.com/mailroute/core/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates a temp sqlite database with the full schema
func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "mailroute_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Email{},
		&models.Endpoint{},
		&models.AddressRoute{},
		&models.Domain{},
		&models.DeliveryAttempt{},
		&models.VipPolicy{},
		&models.VipAllowedSender{},
		&models.VipPaymentSession{},
		&models.VipAttempt{},
		&models.Log{},
	)
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}
