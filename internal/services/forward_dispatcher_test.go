package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/mailparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestForwardDispatcher(db *gorm.DB, mailer *fakeMailer, banner string) *ForwardDispatcher {
	logService := NewLogService(db)
	return NewForwardDispatcher(db, logService, NewDeliveryService(db, logService), mailer, "", banner)
}

func forwardTestEmail(t *testing.T, db *gorm.DB, raw string) (*models.Email, *mailparse.ParsedEmail) {
	t.Helper()
	parsed := mailparse.Parse([]byte(raw))

	fromAddr := ""
	if len(parsed.From.Addresses) > 0 {
		fromAddr = parsed.From.Addresses[0].Address
	}
	email := &models.Email{
		MessageID: parsed.MessageID,
		UserID:    1,
		Recipient: "dest@routes.example",
		Subject:   parsed.Subject,
		FromAddr:  fromAddr,
		InReplyTo: parsed.InReplyTo,
		TextBody:  parsed.TextBody,
		HTMLBody:  parsed.HTMLBody,
		Date:      time.Now(),
		Status:    string(models.StatusParsed),
	}
	require.NoError(t, db.Create(email).Error)
	return email, parsed
}

func TestForwardDispatch_SingleTarget(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	raw := "From: sender@x.example\r\n" +
		"To: dest@routes.example\r\n" +
		"Subject: forward me\r\n" +
		"Message-ID: <fwd1@x.example>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain body\r\n"
	email, parsed := forwardTestEmail(t, db, raw)

	mailer := &fakeMailer{}
	dispatcher := newTestForwardDispatcher(db, mailer, "")

	endpoint := &models.Endpoint{ID: 20, UserID: 1, Type: models.EndpointTypeForward, TargetAddress: "target@other.example"}
	config := &models.EndpointConfig{Forward: &models.ForwardConfig{TargetAddress: "target@other.example"}}

	err := dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config)
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, []string{"target@other.example"}, msg.To)
	// Envelope From is the original recipient so the relay is allowed to send
	assert.Equal(t, "dest@routes.example", msg.From)

	rawOut := string(msg.Raw)
	assert.Contains(t, rawOut, "Reply-To: sender@x.example")
	assert.Contains(t, rawOut, "Subject: forward me")
	assert.Contains(t, rawOut, "Content-Type: text/plain; charset=utf-8")

	var attempt models.DeliveryAttempt
	require.NoError(t, db.Where("email_id = ?", email.ID).First(&attempt).Error)
	assert.Equal(t, models.DeliveryStatusSuccess, attempt.Status)
	assert.Equal(t, models.DeliveryTypeForward, attempt.DeliveryType)
}

func TestForwardDispatch_MultipartAlternativeRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	raw := "From: sender@x.example\r\n" +
		"Subject: both bodies\r\n" +
		"Message-ID: <fwd2@x.example>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b\"\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"text version\r\n" +
		"--b\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>html version</p>\r\n" +
		"--b--\r\n"
	email, parsed := forwardTestEmail(t, db, raw)

	mailer := &fakeMailer{}
	dispatcher := newTestForwardDispatcher(db, mailer, "")
	endpoint := &models.Endpoint{ID: 21, UserID: 1, Type: models.EndpointTypeForward}
	config := &models.EndpointConfig{Forward: &models.ForwardConfig{TargetAddress: "t@o.example"}}

	require.NoError(t, dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config))
	require.Len(t, mailer.sent, 1)

	// The rebuilt message must parse back with both bodies intact
	reparsed := mailparse.Parse(mailer.sent[0].Raw)
	require.True(t, reparsed.ParseSuccess)
	assert.Contains(t, reparsed.TextBody, "text version")
	assert.Contains(t, reparsed.HTMLBody, "html version")
}

func TestForwardDispatch_AttachmentsCarriedOver(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	raw := "From: sender@x.example\r\n" +
		"Subject: with attachment\r\n" +
		"Message-ID: <fwd3@x.example>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"m\"\r\n" +
		"\r\n" +
		"--m\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"see attachment\r\n" +
		"--m\r\n" +
		"Content-Type: application/pdf; name=\"doc.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--m--\r\n"
	email, parsed := forwardTestEmail(t, db, raw)

	mailer := &fakeMailer{}
	dispatcher := newTestForwardDispatcher(db, mailer, "")
	endpoint := &models.Endpoint{ID: 22, UserID: 1, Type: models.EndpointTypeForward}
	config := &models.EndpointConfig{Forward: &models.ForwardConfig{TargetAddress: "t@o.example"}}

	require.NoError(t, dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config))
	require.Len(t, mailer.sent, 1)

	reparsed := mailparse.Parse(mailer.sent[0].Raw)
	require.True(t, reparsed.ParseSuccess)
	require.Len(t, reparsed.Attachments, 1)
	assert.Equal(t, "doc.pdf", reparsed.Attachments[0].Filename)
	assert.Equal(t, []byte("%PDF-1.4"), reparsed.Attachments[0].Content)
	assert.Contains(t, reparsed.TextBody, "see attachment")
}

func TestForwardDispatch_ForwardGroupFansOut(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	raw := "From: sender@x.example\r\nSubject: group\r\nMessage-ID: <fwd4@x.example>\r\n" +
		"Content-Type: text/plain\r\n\r\nbody\r\n"
	email, parsed := forwardTestEmail(t, db, raw)

	mailer := &fakeMailer{}
	dispatcher := newTestForwardDispatcher(db, mailer, "")
	endpoint := &models.Endpoint{ID: 23, UserID: 1, Type: models.EndpointTypeForwardGroup}
	config := &models.EndpointConfig{ForwardGroup: &models.ForwardGroupConfig{
		TargetAddresses: []string{"a@o.example", "b@o.example"},
	}}

	require.NoError(t, dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"a@o.example", "b@o.example"}, mailer.sent[0].To)
}

func TestForwardDispatch_BannerInserted(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	raw := "From: sender@x.example\r\nSubject: banner\r\nMessage-ID: <fwd5@x.example>\r\n" +
		"Content-Type: text/html\r\n\r\n<html><body><p>content</p></body></html>\r\n"
	email, parsed := forwardTestEmail(t, db, raw)

	mailer := &fakeMailer{}
	dispatcher := newTestForwardDispatcher(db, mailer, "Forwarded by MailRoute")
	endpoint := &models.Endpoint{ID: 24, UserID: 1, Type: models.EndpointTypeForward}
	config := &models.EndpointConfig{Forward: &models.ForwardConfig{TargetAddress: "t@o.example"}}

	require.NoError(t, dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config))
	require.Len(t, mailer.sent, 1)

	reparsed := mailparse.Parse(mailer.sent[0].Raw)
	require.True(t, reparsed.ParseSuccess)
	// Banner lands before the closing body tag
	idx := strings.Index(reparsed.HTMLBody, "Forwarded by MailRoute")
	end := strings.Index(reparsed.HTMLBody, "</body>")
	require.Greater(t, idx, 0)
	require.Greater(t, end, idx)
}

func TestForwardDispatch_SendFailureRecorded(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	raw := "From: sender@x.example\r\nSubject: failing\r\nMessage-ID: <fwd6@x.example>\r\n" +
		"Content-Type: text/plain\r\n\r\nbody\r\n"
	email, parsed := forwardTestEmail(t, db, raw)

	mailer := &fakeMailer{failWith: assert.AnError}
	dispatcher := newTestForwardDispatcher(db, mailer, "")
	endpoint := &models.Endpoint{ID: 25, UserID: 1, Type: models.EndpointTypeForward}
	config := &models.EndpointConfig{Forward: &models.ForwardConfig{TargetAddress: "t@o.example"}}

	err := dispatcher.Dispatch(context.Background(), email, parsed, endpoint, config)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForwardFailed)

	var attempt models.DeliveryAttempt
	require.NoError(t, db.Where("email_id = ?", email.ID).First(&attempt).Error)
	assert.Equal(t, models.DeliveryStatusFailed, attempt.Status)
	assert.NotEmpty(t, attempt.ErrorText)
}
