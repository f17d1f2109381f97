package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/thread"
	"gorm.io/gorm"
)

var (
	// ErrEmailNotFound indicates the requested email does not exist
	ErrEmailNotFound = errors.New("email not found")
)

// EmailService provides read access to stored emails and on-demand
// thread reconstruction
type EmailService struct {
	db *gorm.DB
}

// NewEmailService creates a new EmailService instance
func NewEmailService(db *gorm.DB) *EmailService {
	return &EmailService{db: db}
}

// ListOptions filters email listings
type ListOptions struct {
	UserID    uint
	Recipient string
	Status    string
	Limit     int
	Offset    int
}

// List returns emails matching the filter, newest first
func (s *EmailService) List(opts ListOptions) ([]models.Email, int64, error) {
	query := s.db.Model(&models.Email{})
	if opts.UserID != 0 {
		query = query.Where("user_id = ?", opts.UserID)
	}
	if opts.Recipient != "" {
		query = query.Where("recipient = ?", opts.Recipient)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var emails []models.Email
	err := query.Order("date DESC").Limit(limit).Offset(opts.Offset).Find(&emails).Error
	if err != nil {
		return nil, 0, err
	}
	return emails, total, nil
}

// Get returns one email by id
func (s *EmailService) Get(id uint) (*models.Email, error) {
	var email models.Email
	err := s.db.First(&email, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// BuildThread reconstructs the conversation containing the given email.
// The thread is derived on demand from the stored email set; nothing is
// persisted.
func (s *EmailService) BuildThread(id uint) (*thread.Thread, error) {
	email, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	// Candidate pool: same owner, recent window. The reconstructor
	// filters by actual links or subject so over-fetching is harmless.
	var pool []models.Email
	err = s.db.Where("user_id = ? AND id != ?", email.UserID, email.ID).
		Order("date DESC").Limit(500).Find(&pool).Error
	if err != nil {
		return nil, fmt.Errorf("loading thread pool: %w", err)
	}

	poolMessages := make([]thread.Message, 0, len(pool))
	for i := range pool {
		poolMessages = append(poolMessages, projectThreadMessage(&pool[i]))
	}

	built := thread.Build(projectThreadMessage(email), poolMessages)
	return &built, nil
}

// projectThreadMessage maps a stored email onto the reconstructor's view
func projectThreadMessage(email *models.Email) thread.Message {
	var refs []string
	if email.References != "" {
		json.Unmarshal([]byte(email.References), &refs)
	}

	participants := []string{}
	if email.FromAddr != "" {
		participants = append(participants, email.FromAddr)
	}
	if email.Recipient != "" {
		participants = append(participants, email.Recipient)
	}
	participants = append(participants, addressesFromJSON(email.ToJSON)...)
	participants = append(participants, addressesFromJSON(email.CcJSON)...)

	return thread.Message{
		ID:           email.ID,
		MessageID:    email.MessageID,
		InReplyTo:    email.InReplyTo,
		References:   refs,
		Subject:      email.Subject,
		Participants: participants,
		Date:         email.Date,
		TextBody:     email.TextBody,
		HTMLBody:     email.HTMLBody,
	}
}

// addressesFromJSON extracts plain addresses out of a stored AddressList
func addressesFromJSON(raw string) []string {
	if raw == "" {
		return nil
	}
	var list struct {
		Addresses []struct {
			Address string `json:"address"`
		} `json:"addresses"`
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	var out []string
	for _, addr := range list.Addresses {
		if addr.Address != "" {
			out = append(out, addr.Address)
		}
	}
	return out
}
