package services

import (
	"fmt"

	"github.com/mailroute/core/internal/database/models"
	"gorm.io/gorm"
)

// DeliveryService records and queries delivery attempts. Attempt rows are
// append-only audit data; a failed write is logged but never fails the
// delivery it describes.
type DeliveryService struct {
	db         *gorm.DB
	logService *LogService
}

// NewDeliveryService creates a new DeliveryService instance
func NewDeliveryService(db *gorm.DB, logService *LogService) *DeliveryService {
	return &DeliveryService{
		db:         db,
		logService: logService,
	}
}

// Record persists one delivery attempt
func (s *DeliveryService) Record(attempt *models.DeliveryAttempt) {
	if err := s.db.Create(attempt).Error; err != nil {
		s.logService.LogWarn(0, models.LogModuleDelivery, "record_failed",
			fmt.Sprintf("Could not record delivery attempt for email %d: %v", attempt.EmailID, err),
			map[string]interface{}{"email_id": attempt.EmailID, "endpoint_id": attempt.EndpointID})
	}
}

// ListByEmail returns all delivery attempts for one email, oldest first
func (s *DeliveryService) ListByEmail(emailID uint) ([]models.DeliveryAttempt, error) {
	var attempts []models.DeliveryAttempt
	err := s.db.Where("email_id = ?", emailID).Order("created_at ASC").Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// ListByEndpoint returns recent delivery attempts for one endpoint
func (s *DeliveryService) ListByEndpoint(endpointID uint, limit int) ([]models.DeliveryAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var attempts []models.DeliveryAttempt
	err := s.db.Where("endpoint_id = ?", endpointID).
		Order("created_at DESC").Limit(limit).Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
