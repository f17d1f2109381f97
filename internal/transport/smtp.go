package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const smtpConnectTimeout = 10 * time.Second

// loginAuth implements smtp.Auth for LOGIN authentication.
// Required for QQ Mail, 163 Mail and other providers that reject PLAIN.
type loginAuth struct {
	username, password string
}

func newLoginAuth(username, password string) smtp.Auth {
	return &loginAuth{username, password}
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case "Username:", "username:":
			return []byte(a.username), nil
		case "Password:", "password:":
			return []byte(a.password), nil
		default:
			// Some servers send base64 encoded prompts
			decoded, err := base64.StdEncoding.DecodeString(string(fromServer))
			if err == nil {
				switch strings.ToLower(string(decoded)) {
				case "username:", "username":
					return []byte(a.username), nil
				case "password:", "password":
					return []byte(a.password), nil
				}
			}
			return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
		}
	}
	return nil, nil
}

// SMTPConfig holds the configuration for creating a SMTPMailer
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
}

// SMTPMailer delivers messages through a plain SMTP relay
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a SMTP-backed mailer
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg}
}

// Send delivers one raw message via SMTP
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	client, err := m.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Username != "" {
		if err := m.authenticate(client); err != nil {
			return err
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("%w: MAIL FROM failed: %v", ErrSendFailed, err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%w: RCPT TO failed for %s: %v", ErrSendFailed, rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA failed: %v", ErrSendFailed, err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrSendFailed, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close failed: %v", ErrSendFailed, err)
	}

	// Some servers return odd responses on QUIT after a successful send
	client.Quit()
	return nil
}

// Name returns the transport name
func (m *SMTPMailer) Name() string {
	return "smtp"
}

// connect dials the relay, with SMTPS or opportunistic STARTTLS
func (m *SMTPMailer) connect(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: smtpConnectTimeout}

	if m.cfg.UseSSL {
		tlsConfig := &tls.Config{ServerName: m.cfg.Host}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		client, err := smtp.NewClient(conn, m.cfg.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return client, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: m.cfg.Host}
		if err := client.StartTLS(tlsConfig); err != nil {
			// Continue without TLS if STARTTLS fails
		}
	}
	return client, nil
}

// authenticate tries PLAIN first and falls back to LOGIN
func (m *SMTPMailer) authenticate(client *smtp.Client) error {
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if err := client.Auth(auth); err != nil {
		fallback := newLoginAuth(m.cfg.Username, m.cfg.Password)
		if err2 := client.Auth(fallback); err2 != nil {
			return fmt.Errorf("%w: authentication failed (tried PLAIN and LOGIN): %v", ErrConnectionFailed, err)
		}
	}
	return nil
}
