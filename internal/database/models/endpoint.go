package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidEndpointConfig indicates the endpoint row cannot be turned into a typed config
	ErrInvalidEndpointConfig = errors.New("invalid endpoint configuration")
)

// EndpointType identifies the delivery mechanism of an endpoint
type EndpointType string

const (
	EndpointTypeWebhook      EndpointType = "webhook"
	EndpointTypeForward      EndpointType = "forward"
	EndpointTypeForwardGroup EndpointType = "forward_group"
)

// IsValid checks if the endpoint type is known
func (t EndpointType) IsValid() bool {
	switch t {
	case EndpointTypeWebhook, EndpointTypeForward, EndpointTypeForwardGroup:
		return true
	}
	return false
}

// Endpoint represents a configured delivery target owned by a user.
// The type-specific columns are validated once at the configuration
// boundary via Config(); routing code only sees the typed variants.
type Endpoint struct {
	ID     uint         `gorm:"primaryKey" json:"id"`
	UserID uint         `gorm:"index;not null" json:"user_id"`
	Name   string       `gorm:"size:100" json:"name"`
	Type   EndpointType `gorm:"size:20;not null" json:"type"`
	Active bool         `gorm:"default:true" json:"active"`

	// Webhook columns
	URL            string `gorm:"size:500" json:"url,omitempty"`
	TimeoutSeconds int    `gorm:"default:30" json:"timeout_seconds,omitempty"`
	RetryAttempts  int    `gorm:"default:0" json:"retry_attempts,omitempty"`
	HeadersJSON    string `gorm:"type:text" json:"-"` // static headers as JSON object

	// Forward columns
	TargetAddress   string `gorm:"size:255" json:"target_address,omitempty"`
	TargetAddresses string `gorm:"type:text" json:"-"` // JSON array for forward groups

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookConfig is the typed configuration of a webhook endpoint
type WebhookConfig struct {
	URL            string
	TimeoutSeconds int
	RetryAttempts  int
	Headers        map[string]string
}

// ForwardConfig is the typed configuration of a single-target forward endpoint
type ForwardConfig struct {
	TargetAddress string
}

// ForwardGroupConfig is the typed configuration of a multi-target forward endpoint
type ForwardGroupConfig struct {
	TargetAddresses []string
}

// EndpointConfig is the tagged union of endpoint configurations.
// Exactly one variant method returns a non-nil value.
type EndpointConfig struct {
	Webhook      *WebhookConfig
	Forward      *ForwardConfig
	ForwardGroup *ForwardGroupConfig
}

// Config validates the row and returns the typed configuration variant
func (e *Endpoint) Config() (*EndpointConfig, error) {
	switch e.Type {
	case EndpointTypeWebhook:
		if e.URL == "" {
			return nil, ErrInvalidEndpointConfig
		}
		headers := map[string]string{}
		if e.HeadersJSON != "" {
			if err := json.Unmarshal([]byte(e.HeadersJSON), &headers); err != nil {
				return nil, ErrInvalidEndpointConfig
			}
		}
		timeout := e.TimeoutSeconds
		if timeout <= 0 {
			timeout = 30
		}
		return &EndpointConfig{Webhook: &WebhookConfig{
			URL:            e.URL,
			TimeoutSeconds: timeout,
			RetryAttempts:  e.RetryAttempts,
			Headers:        headers,
		}}, nil
	case EndpointTypeForward:
		if e.TargetAddress == "" {
			return nil, ErrInvalidEndpointConfig
		}
		return &EndpointConfig{Forward: &ForwardConfig{TargetAddress: e.TargetAddress}}, nil
	case EndpointTypeForwardGroup:
		var targets []string
		if e.TargetAddresses != "" {
			if err := json.Unmarshal([]byte(e.TargetAddresses), &targets); err != nil {
				return nil, ErrInvalidEndpointConfig
			}
		}
		if len(targets) == 0 {
			return nil, ErrInvalidEndpointConfig
		}
		return &EndpointConfig{ForwardGroup: &ForwardGroupConfig{TargetAddresses: targets}}, nil
	}
	return nil, ErrInvalidEndpointConfig
}

// AddressRoute binds a specific recipient address to an endpoint or a
// legacy webhook reference
type AddressRoute struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index;not null" json:"user_id"`
	Address          string    `gorm:"size:255;index;not null" json:"address"`
	EndpointID       *uint     `gorm:"index" json:"endpoint_id,omitempty"`
	LegacyWebhookURL string    `gorm:"size:500" json:"legacy_webhook_url,omitempty"`
	Active           bool      `gorm:"default:true" json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Endpoint *Endpoint `gorm:"foreignKey:EndpointID" json:"endpoint,omitempty"`
}

// Domain represents a receiving domain with an optional catch-all binding
type Domain struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"index;not null" json:"user_id"`
	Name              string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	CatchAllEnabled   bool      `gorm:"default:false" json:"catch_all_enabled"`
	CatchAllEndpoint  *uint     `gorm:"index" json:"catch_all_endpoint_id,omitempty"`
	LegacyCatchAllURL string    `gorm:"size:500" json:"legacy_catch_all_url,omitempty"`
	Active            bool      `gorm:"default:true" json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
