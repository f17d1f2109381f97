package models

import (
	"time"
)

// DeliveryType identifies how an email was dispatched
type DeliveryType string

const (
	DeliveryTypeWebhook DeliveryType = "webhook"
	DeliveryTypeForward DeliveryType = "forward"
)

// DeliveryStatus is the outcome of a single dispatch call
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DeliveryAttempt records the outcome of dispatching one email to one
// endpoint. Rows are append-only; one row is created per dispatch call
// and never updated in place.
type DeliveryAttempt struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	EmailID       uint           `gorm:"index;not null" json:"email_id"`
	EndpointID    uint           `gorm:"index;not null" json:"endpoint_id"`
	DeliveryType  DeliveryType   `gorm:"size:20;not null" json:"delivery_type"`
	Status        DeliveryStatus `gorm:"size:20;index;not null" json:"status"`
	AttemptCount  int            `gorm:"default:1" json:"attempt_count"`
	LastAttemptAt time.Time      `json:"last_attempt_at"`
	ResponseCode  int            `json:"response_code,omitempty"`
	ResponseBody  string         `gorm:"type:text" json:"response_body,omitempty"`
	ErrorText     string         `gorm:"type:text" json:"error,omitempty"`
	ElapsedMs     int64          `json:"elapsed_ms"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}
