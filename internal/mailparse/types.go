// Package mailparse turns raw inbound MIME bytes into a structured email.
// Parse never fails past its own boundary: when the primary decoder cannot
// handle the input, a heuristic fallback still produces a usable structure
// with ParseSuccess=false.
package mailparse

import (
	"time"
)

// Address is a single mailbox with an optional display name
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// AddressList is a normalized address header: the raw header text plus
// the parsed mailbox list
type AddressList struct {
	Text      string    `json:"text"`
	Addresses []Address `json:"addresses"`
}

// Attachment is one decoded attachment part. Content is kept in memory
// for inline-image replacement; persistence stores metadata only and
// re-extracts binaries from the retained raw source when needed.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Content     []byte `json:"-"`
}

// ParsedEmail is the structured form of one inbound message
type ParsedEmail struct {
	MessageID    string            `json:"message_id"`
	Date         time.Time         `json:"date"`
	Subject      string            `json:"subject"`
	From         AddressList       `json:"from"`
	To           AddressList       `json:"to"`
	Cc           AddressList       `json:"cc"`
	Bcc          AddressList       `json:"bcc"`
	ReplyTo      AddressList       `json:"reply_to"`
	InReplyTo    string            `json:"in_reply_to,omitempty"`
	References   []string          `json:"references,omitempty"`
	TextBody     string            `json:"text_body"`
	HTMLBody     string            `json:"html_body"`
	Attachments  []Attachment      `json:"attachments"`
	Headers      map[string]string `json:"headers"`
	Priority     string            `json:"priority"`
	Raw          []byte            `json:"-"`
	ParseSuccess bool              `json:"parse_success"`
	ParseError   string            `json:"parse_error,omitempty"`
}

// Priority levels derived from X-Priority/Importance headers
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)
