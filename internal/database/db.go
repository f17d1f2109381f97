package database

import (
	"os"
	"path/filepath"

	"github.com/mailroute/core/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize creates and returns a database connection
func Initialize(dbPath string) (*gorm.DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Configure GORM logger
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	// Open SQLite database
	db, err := gorm.Open(sqlite.Open(dbPath), gormConfig)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return db, nil
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	// Auto-migrate all models
	if err := db.AutoMigrate(
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
	); err != nil {
		return err
	}

	// Backfill statuses for rows created before the status column existed
	db.Model(&models.Email{}).Where("status = '' OR status IS NULL").Update("status", string(models.StatusParsed))

	// Endpoints created before the timeout column default to the 30s webhook timeout
	db.Model(&models.Endpoint{}).Where("type = ? AND (timeout_seconds = 0 OR timeout_seconds IS NULL)", models.EndpointTypeWebhook).Update("timeout_seconds", 30)

	return nil
}
