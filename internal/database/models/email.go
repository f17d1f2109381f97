package models

import (
	"time"
)

// Email represents a parsed inbound email record. It is created once per
// inbound message and never mutated afterwards; routing state transitions
// only touch the Status column.
type Email struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	InboundID    string    `gorm:"size:32;index" json:"inbound_id"`
	MessageID    string    `gorm:"uniqueIndex;size:255;not null" json:"message_id"`
	UserID       uint      `gorm:"index" json:"user_id"`
	Recipient    string    `gorm:"size:255;index" json:"recipient"`
	Subject      string    `gorm:"size:500" json:"subject"`
	Date         time.Time `gorm:"index" json:"date"`
	FromAddr     string    `gorm:"size:255" json:"from"`
	FromJSON     string    `gorm:"type:text" json:"-"` // AddressList stored as JSON
	ToJSON       string    `gorm:"type:text" json:"-"`
	CcJSON       string    `gorm:"type:text" json:"-"`
	BccJSON      string    `gorm:"type:text" json:"-"`
	ReplyToJSON  string    `gorm:"type:text" json:"-"`
	InReplyTo    string    `gorm:"size:255;index" json:"in_reply_to"`
	References   string    `gorm:"type:text" json:"references"` // JSON array stored as string
	TextBody     string    `gorm:"type:text" json:"text_body"`
	HTMLBody     string    `gorm:"type:text" json:"html_body"`
	Attachments  string    `gorm:"type:text" json:"-"` // attachment metadata as JSON
	Headers      string    `gorm:"type:text" json:"-"` // normalized header map as JSON
	Priority     string    `gorm:"size:20" json:"priority"`
	ParseSuccess bool      `gorm:"default:true" json:"parse_success"`
	ParseError   string    `gorm:"type:text" json:"parse_error,omitempty"`
	SpamVerdict  string    `gorm:"size:20" json:"spam_verdict"`
	VirusVerdict string    `gorm:"size:20" json:"virus_verdict"`
	AuthResults  string    `gorm:"type:text" json:"auth_results"` // receipt auth verdicts as JSON
	RawLocator   string    `gorm:"size:500" json:"raw_locator"`
	Status       string    `gorm:"size:30;index" json:"status"`
	CreatedAt    time.Time `json:"created_at"`

	// Relations
	DeliveryAttempts []DeliveryAttempt `gorm:"foreignKey:EmailID" json:"delivery_attempts,omitempty"`
}

// EmailStatus is the routing life-cycle state of an email.
// Received → Parsed → {VipPending | Routed} → {Delivered | DeliveryFailed},
// with Unrouted a terminal success variant. No transition re-enters Parsed.
type EmailStatus string

const (
	StatusReceived       EmailStatus = "received"
	StatusParsed         EmailStatus = "parsed"
	StatusVipPending     EmailStatus = "vip_pending"
	StatusRouted         EmailStatus = "routed"
	StatusUnrouted       EmailStatus = "unrouted"
	StatusDelivered      EmailStatus = "delivered"
	StatusDeliveryFailed EmailStatus = "delivery_failed"
)

// IsTerminal reports whether the status ends the routing life-cycle.
func (s EmailStatus) IsTerminal() bool {
	switch s {
	case StatusVipPending, StatusUnrouted, StatusDelivered, StatusDeliveryFailed:
		return true
	}
	return false
}
