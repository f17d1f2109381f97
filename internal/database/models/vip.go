package models

import (
	"time"
)

// VipPolicy is a pay-to-reach gate on a recipient address. Unrecognized
// senders must complete a payment session before their mail is routed.
type VipPolicy struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"index;not null" json:"user_id"`
	Address           string    `gorm:"uniqueIndex;size:255;not null" json:"address"`
	Enabled           bool      `gorm:"default:true" json:"enabled"`
	PriceAmount       int64     `gorm:"not null" json:"price_amount"` // currency-agnostic integer amount
	AllowAfterPayment bool      `gorm:"default:true" json:"allow_after_payment"`
	ExpirationHours   int       `gorm:"default:24" json:"expiration_hours"`
	CustomMessage     string    `gorm:"type:text" json:"custom_message"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// VipAllowedSender is an allow-list entry created on successful payment.
// A null AllowedUntil means the entry is permanent.
type VipAllowedSender struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	PolicyID      uint       `gorm:"index;not null" json:"policy_id"`
	SenderAddress string     `gorm:"size:255;index;not null" json:"sender_address"`
	AllowedUntil  *time.Time `json:"allowed_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// VipSessionStatus is the state of a payment session
type VipSessionStatus string

const (
	VipSessionPending VipSessionStatus = "pending"
	VipSessionPaid    VipSessionStatus = "paid"
	VipSessionExpired VipSessionStatus = "expired"
)

// VipPaymentSession is created when a sender is asked to pay. The paid
// transition is performed by the payment-provider callback handler, an
// external collaborator; this core only creates sessions and sweeps
// clock-expired ones.
type VipPaymentSession struct {
	ID            string           `gorm:"primaryKey;size:32" json:"id"`
	PolicyID      uint             `gorm:"index;not null" json:"policy_id"`
	SenderAddress string           `gorm:"size:255;index;not null" json:"sender_address"`
	EmailID       uint             `gorm:"index" json:"email_id"`
	CheckoutRef   string           `gorm:"size:255" json:"checkout_ref"`
	CheckoutURL   string           `gorm:"size:500" json:"checkout_url"`
	Status        VipSessionStatus `gorm:"size:20;index;default:'pending'" json:"status"`
	ExpiresAt     time.Time        `gorm:"index" json:"expires_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

// VipAttemptStatus records how a gated delivery attempt ended
type VipAttemptStatus string

const (
	VipAttemptAllowed         VipAttemptStatus = "allowed"
	VipAttemptPaymentRequired VipAttemptStatus = "payment_required"
)

// VipAttempt is an audit row written for every gate decision on a
// VIP-protected address
type VipAttempt struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	PolicyID      uint             `gorm:"index;not null" json:"policy_id"`
	SenderAddress string           `gorm:"size:255;index" json:"sender_address"`
	EmailID       uint             `gorm:"index" json:"email_id"`
	Status        VipAttemptStatus `gorm:"size:30;not null" json:"status"`
	Reason        string           `gorm:"size:100" json:"reason"`
	CreatedAt     time.Time        `json:"created_at"`
}
