package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/mailparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestWebhookDispatcher(db *gorm.DB) *WebhookDispatcher {
	logService := NewLogService(db)
	return NewWebhookDispatcher(db, logService, NewDeliveryService(db, logService), nil, "MailRoute-Test/1.0", 0)
}

func webhookTestEmail(t *testing.T, db *gorm.DB) (*models.Email, *mailparse.ParsedEmail) {
	t.Helper()
	parsed := mailparse.Parse([]byte("From: sender@x.example\r\n" +
		"To: dest@routes.example\r\n" +
		"Subject: webhook test\r\n" +
		"Message-ID: <wh-test@x.example>\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>hi</p><script>alert(1)</script>\r\n"))

	email := &models.Email{
		MessageID: parsed.MessageID,
		UserID:    1,
		Recipient: "dest@routes.example",
		Subject:   parsed.Subject,
		FromAddr:  "sender@x.example",
		HTMLBody:  parsed.HTMLBody,
		Date:      time.Now(),
		Status:    string(models.StatusParsed),
	}
	require.NoError(t, db.Create(email).Error)
	return email, parsed
}

func TestWebhookDispatch_Success(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	email, parsed := webhookTestEmail(t, db)
	endpoint := &models.Endpoint{
		ID: 10, UserID: 1, Name: "hook", Type: models.EndpointTypeWebhook, Active: true, URL: server.URL,
	}
	config := &models.WebhookConfig{
		URL:            server.URL,
		TimeoutSeconds: 5,
		Headers:        map[string]string{"X-Custom": "custom-value"},
	}

	dispatcher := newTestWebhookDispatcher(db)
	err := dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config)
	require.NoError(t, err)

	// Envelope shape
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, "email.received", envelope["event"])

	emailObj := envelope["email"].(map[string]interface{})
	assert.Equal(t, "wh-test@x.example", emailObj["messageId"])
	assert.Equal(t, "dest@routes.example", emailObj["recipient"])
	assert.Equal(t, "sender@x.example", emailObj["from"])

	// Sanitized content: no script blocks in the cleaned HTML
	cleaned := emailObj["cleanedContent"].(map[string]interface{})
	assert.Contains(t, cleaned["html"], "<p>hi</p>")
	assert.NotContains(t, cleaned["html"], "<script")

	// Dispatch headers
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "MailRoute-Test/1.0", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "email.received", gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, "10", gotHeaders.Get("X-Endpoint-ID"))
	assert.Equal(t, "wh-test@x.example", gotHeaders.Get("X-Message-ID"))
	assert.Equal(t, "custom-value", gotHeaders.Get("X-Custom"))
	assert.NotEmpty(t, gotHeaders.Get("X-Webhook-Timestamp"))

	// Successful attempt recorded
	var attempt models.DeliveryAttempt
	require.NoError(t, db.Where("email_id = ?", email.ID).First(&attempt).Error)
	assert.Equal(t, models.DeliveryStatusSuccess, attempt.Status)
	assert.Equal(t, models.DeliveryTypeWebhook, attempt.DeliveryType)
	assert.Equal(t, http.StatusOK, attempt.ResponseCode)
	assert.Equal(t, 1, attempt.AttemptCount)
}

func TestWebhookDispatch_TimeoutRecordsFailure(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	email, parsed := webhookTestEmail(t, db)
	endpoint := &models.Endpoint{ID: 11, UserID: 1, Type: models.EndpointTypeWebhook, URL: server.URL}
	config := &models.WebhookConfig{URL: server.URL, TimeoutSeconds: 1}

	dispatcher := newTestWebhookDispatcher(db)
	start := time.Now()
	err := dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWebhookFailed)
	assert.Less(t, elapsed, 3*time.Second, "dispatch must stop at the configured timeout")

	var attempt models.DeliveryAttempt
	require.NoError(t, db.Where("email_id = ?", email.ID).First(&attempt).Error)
	assert.Equal(t, models.DeliveryStatusFailed, attempt.Status)
	assert.NotEmpty(t, attempt.ErrorText)
	assert.Equal(t, 1, attempt.AttemptCount, "exactly one attempt, no retry loop")
}

type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	return http.DefaultTransport.RoundTrip(req)
}

func TestWebhookDispatch_InjectedClientAndDefaultTimeout(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	email, parsed := webhookTestEmail(t, db)
	endpoint := &models.Endpoint{ID: 13, UserID: 1, Type: models.EndpointTypeWebhook, URL: server.URL}
	// No per-endpoint timeout, so the dispatcher default applies
	config := &models.WebhookConfig{URL: server.URL}

	transport := &countingTransport{}
	logService := NewLogService(db)
	dispatcher := NewWebhookDispatcher(db, logService, NewDeliveryService(db, logService),
		&http.Client{Transport: transport}, "MailRoute-Test/1.0", 1)

	start := time.Now()
	err := dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrWebhookFailed)
	assert.Less(t, elapsed, 3*time.Second, "the configured default timeout bounds the call")
	assert.Equal(t, 1, transport.calls, "the injected client carries the request")
}

func TestWebhookDispatch_Non2xxIsFailure(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	email, parsed := webhookTestEmail(t, db)
	endpoint := &models.Endpoint{ID: 12, UserID: 1, Type: models.EndpointTypeWebhook, URL: server.URL}
	config := &models.WebhookConfig{URL: server.URL, TimeoutSeconds: 5}

	err := newTestWebhookDispatcher(db).Dispatch(context.Background(), email, parsed, endpoint, config)
	require.Error(t, err)

	var attempt models.DeliveryAttempt
	require.NoError(t, db.Where("email_id = ?", email.ID).First(&attempt).Error)
	assert.Equal(t, models.DeliveryStatusFailed, attempt.Status)
	assert.Equal(t, http.StatusInternalServerError, attempt.ResponseCode)
	assert.Equal(t, "boom", attempt.ResponseBody)
}
