package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/mailparse"
	"gorm.io/gorm"
)

var (
	// ErrWebhookFailed indicates the endpoint did not acknowledge the delivery
	ErrWebhookFailed = errors.New("webhook delivery failed")
)

const (
	defaultWebhookTimeout  = 30 * time.Second
	responseBodyCaptureMax = 2000
)

// WebhookDispatcher delivers emails to webhook endpoints as JSON payloads.
// Exactly one HTTP attempt is made per dispatch; the endpoint's configured
// retry count is carried on the attempt row as metadata only.
type WebhookDispatcher struct {
	db              *gorm.DB
	logService      *LogService
	deliveryService *DeliveryService
	httpClient      *http.Client
	userAgent       string
	defaultTimeout  time.Duration
}

// NewWebhookDispatcher creates a new WebhookDispatcher instance. A nil
// httpClient falls back to a plain client; defaultTimeoutSeconds applies
// when the endpoint configuration carries no timeout of its own.
func NewWebhookDispatcher(db *gorm.DB, logService *LogService, deliveryService *DeliveryService, httpClient *http.Client, userAgent string, defaultTimeoutSeconds int) *WebhookDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if userAgent == "" {
		userAgent = "MailRoute-Webhook/1.0"
	}
	defaultTimeout := defaultWebhookTimeout
	if defaultTimeoutSeconds > 0 {
		defaultTimeout = time.Duration(defaultTimeoutSeconds) * time.Second
	}
	return &WebhookDispatcher{
		db:              db,
		logService:      logService,
		deliveryService: deliveryService,
		httpClient:      httpClient,
		userAgent:       userAgent,
		defaultTimeout:  defaultTimeout,
	}
}

// webhookEnvelope is the JSON payload posted to webhook endpoints
type webhookEnvelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Email     webhookEmail    `json:"email"`
	Endpoint  webhookEndpoint `json:"endpoint"`
}

type webhookEmail struct {
	ID             uint                   `json:"id"`
	MessageID      string                 `json:"messageId"`
	From           string                 `json:"from"`
	To             []string               `json:"to"`
	Recipient      string                 `json:"recipient"`
	Subject        string                 `json:"subject"`
	ReceivedAt     string                 `json:"receivedAt"`
	ParsedData     *mailparse.ParsedEmail `json:"parsedData,omitempty"`
	CleanedContent webhookCleanedContent  `json:"cleanedContent"`
}

type webhookCleanedContent struct {
	HTML        string                 `json:"html,omitempty"`
	Text        string                 `json:"text,omitempty"`
	Attachments []mailparse.Attachment `json:"attachments"`
	Headers     map[string]string      `json:"headers"`
}

type webhookEndpoint struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Dispatch posts one email to one webhook endpoint and records the
// attempt. Returns an error when the endpoint did not answer 2xx within
// its configured timeout.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, email *models.Email, parsed *mailparse.ParsedEmail, endpoint *models.Endpoint, config *models.WebhookConfig) error {
	payload, err := d.buildEnvelope(email, parsed, endpoint)
	if err != nil {
		return fmt.Errorf("%w: building payload: %v", ErrWebhookFailed, err)
	}

	timeout := d.defaultTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("X-Webhook-Event", "email.received")
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Endpoint-ID", strconv.FormatUint(uint64(endpoint.ID), 10))
	req.Header.Set("X-Email-ID", strconv.FormatUint(uint64(email.ID), 10))
	req.Header.Set("X-Message-ID", email.MessageID)
	for name, value := range config.Headers {
		req.Header.Set(name, value)
	}

	attempt := &models.DeliveryAttempt{
		EmailID:       email.ID,
		EndpointID:    endpoint.ID,
		DeliveryType:  models.DeliveryTypeWebhook,
		AttemptCount:  1,
		LastAttemptAt: time.Now(),
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	attempt.ElapsedMs = time.Since(start).Milliseconds()

	if err != nil {
		attempt.Status = models.DeliveryStatusFailed
		attempt.ErrorText = err.Error()
		d.deliveryService.Record(attempt)
		d.logService.LogError(email.UserID, models.LogModuleDispatch, "webhook_failed",
			fmt.Sprintf("Webhook to %s failed for email %d: %v", config.URL, email.ID, err),
			map[string]interface{}{"endpoint_id": endpoint.ID, "elapsed_ms": attempt.ElapsedMs})
		return fmt.Errorf("%w: %v", ErrWebhookFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyCaptureMax))
	attempt.ResponseCode = resp.StatusCode
	attempt.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		attempt.Status = models.DeliveryStatusFailed
		attempt.ErrorText = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		d.deliveryService.Record(attempt)
		d.logService.LogError(email.UserID, models.LogModuleDispatch, "webhook_rejected",
			fmt.Sprintf("Webhook to %s returned %d for email %d", config.URL, resp.StatusCode, email.ID),
			map[string]interface{}{"endpoint_id": endpoint.ID, "status_code": resp.StatusCode})
		return fmt.Errorf("%w: endpoint returned status %d", ErrWebhookFailed, resp.StatusCode)
	}

	attempt.Status = models.DeliveryStatusSuccess
	d.deliveryService.Record(attempt)
	d.logService.LogInfo(email.UserID, models.LogModuleDispatch, "webhook_delivered",
		fmt.Sprintf("Email %d delivered to webhook %s", email.ID, config.URL),
		map[string]interface{}{"endpoint_id": endpoint.ID, "status_code": resp.StatusCode, "elapsed_ms": attempt.ElapsedMs})
	return nil
}

// buildEnvelope constructs the JSON payload for one delivery
func (d *WebhookDispatcher) buildEnvelope(email *models.Email, parsed *mailparse.ParsedEmail, endpoint *models.Endpoint) ([]byte, error) {
	var toAddresses []string
	if parsed != nil {
		for _, addr := range parsed.To.Addresses {
			toAddresses = append(toAddresses, addr.Address)
		}
	}

	cleaned := webhookCleanedContent{
		Attachments: []mailparse.Attachment{},
		Headers:     map[string]string{},
	}
	if parsed != nil {
		cleaned.HTML = mailparse.SanitizeHTML(parsed.HTMLBody)
		cleaned.Text = parsed.TextBody
		cleaned.Attachments = parsed.Attachments
		cleaned.Headers = parsed.Headers
	} else {
		cleaned.HTML = mailparse.SanitizeHTML(email.HTMLBody)
		cleaned.Text = email.TextBody
	}

	envelope := webhookEnvelope{
		Event:     "email.received",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Email: webhookEmail{
			ID:             email.ID,
			MessageID:      email.MessageID,
			From:           email.FromAddr,
			To:             toAddresses,
			Recipient:      email.Recipient,
			Subject:        email.Subject,
			ReceivedAt:     email.CreatedAt.UTC().Format(time.RFC3339),
			ParsedData:     parsed,
			CleanedContent: cleaned,
		},
		Endpoint: webhookEndpoint{
			ID:   endpoint.ID,
			Name: endpoint.Name,
			Type: string(endpoint.Type),
		},
	}
	return json.Marshal(envelope)
}
