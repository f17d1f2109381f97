// Package transport defines the outbound mail port used by the forward
// dispatcher and the VIP payment-request reply, plus its SES and SMTP
// implementations. Transports are injected at construction time so
// tests can substitute fakes.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrSendFailed indicates the transport could not deliver the message
	ErrSendFailed = errors.New("mail send failed")
	// ErrConnectionFailed indicates the transport could not reach its server
	ErrConnectionFailed = errors.New("mail transport connection failed")
)

// Message is a fully constructed RFC 2822 message plus its envelope
type Message struct {
	From string
	To   []string
	Raw  []byte
}

// Mailer delivers outbound messages. Implementations perform exactly
// one delivery attempt per call; retry policy lives upstream.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}
