package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/mailparse"
	"github.com/mailroute/core/internal/transport"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

var (
	// ErrForwardFailed indicates the forwarded message could not be sent
	ErrForwardFailed = errors.New("forward delivery failed")
)

// ForwardDispatcher reconstructs inbound emails as fresh MIME messages
// and relays them to forward targets. The original sender is preserved
// in Reply-To so replies go back to them, while the From address is one
// the relay is allowed to send as.
type ForwardDispatcher struct {
	db              *gorm.DB
	logService      *LogService
	deliveryService *DeliveryService
	mailer          transport.Mailer
	fromAddress     string // overrides the original recipient as From when set
	banner          string // optional notice prepended info, inserted into the body
}

// NewForwardDispatcher creates a new ForwardDispatcher instance
func NewForwardDispatcher(db *gorm.DB, logService *LogService, deliveryService *DeliveryService, mailer transport.Mailer, fromAddress, banner string) *ForwardDispatcher {
	return &ForwardDispatcher{
		db:              db,
		logService:      logService,
		deliveryService: deliveryService,
		mailer:          mailer,
		fromAddress:     fromAddress,
		banner:          banner,
	}
}

// Dispatch forwards one email to the endpoint's target address(es) and
// records the attempt
func (d *ForwardDispatcher) Dispatch(ctx context.Context, email *models.Email, parsed *mailparse.ParsedEmail, endpoint *models.Endpoint, config *models.EndpointConfig) error {
	var targets []string
	switch {
	case config.Forward != nil:
		targets = []string{config.Forward.TargetAddress}
	case config.ForwardGroup != nil:
		targets = config.ForwardGroup.TargetAddresses
	default:
		return fmt.Errorf("%w: endpoint %d is not a forward endpoint", ErrForwardFailed, endpoint.ID)
	}

	from := d.fromAddress
	if from == "" {
		from = email.Recipient
	}

	raw, err := d.buildMessage(email, parsed, from, targets)
	if err != nil {
		return fmt.Errorf("%w: building message: %v", ErrForwardFailed, err)
	}

	attempt := &models.DeliveryAttempt{
		EmailID:       email.ID,
		EndpointID:    endpoint.ID,
		DeliveryType:  models.DeliveryTypeForward,
		AttemptCount:  1,
		LastAttemptAt: time.Now(),
	}

	start := time.Now()
	sendErr := d.mailer.Send(ctx, &transport.Message{
		From: from,
		To:   targets,
		Raw:  raw,
	})
	attempt.ElapsedMs = time.Since(start).Milliseconds()

	if sendErr != nil {
		attempt.Status = models.DeliveryStatusFailed
		attempt.ErrorText = sendErr.Error()
		d.deliveryService.Record(attempt)
		d.logService.LogError(email.UserID, models.LogModuleDispatch, "forward_failed",
			fmt.Sprintf("Forward of email %d to %s failed: %v", email.ID, strings.Join(targets, ", "), sendErr),
			map[string]interface{}{"endpoint_id": endpoint.ID, "targets": targets})
		return fmt.Errorf("%w: %v", ErrForwardFailed, sendErr)
	}

	attempt.Status = models.DeliveryStatusSuccess
	d.deliveryService.Record(attempt)
	d.logService.LogInfo(email.UserID, models.LogModuleDispatch, "forward_delivered",
		fmt.Sprintf("Email %d forwarded to %s", email.ID, strings.Join(targets, ", ")),
		map[string]interface{}{"endpoint_id": endpoint.ID, "targets": targets, "transport": d.mailer.Name()})
	return nil
}

// buildMessage reconstructs the email as a fresh MIME message. Shapes:
// single part for one body, multipart/alternative for text+html, and
// multipart/mixed wrapping the body plus attachments.
func (d *ForwardDispatcher) buildMessage(email *models.Email, parsed *mailparse.ParsedEmail, from string, targets []string) ([]byte, error) {
	textBody := email.TextBody
	htmlBody := email.HTMLBody
	if parsed != nil {
		textBody = parsed.TextBody
		htmlBody = parsed.HTMLBody
	}
	textBody, htmlBody = d.applyBanner(textBody, htmlBody)

	attachments := d.loadAttachments(email, parsed)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(targets, ", "))
	if email.FromAddr != "" {
		fmt.Fprintf(&msg, "Reply-To: %s\r\n", email.FromAddr)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", encodeHeaderWord(email.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@mailroute>\r\n", ulid.Make().String())
	if email.InReplyTo != "" {
		fmt.Fprintf(&msg, "In-Reply-To: %s\r\n", email.InReplyTo)
	}
	if refs := referencesHeader(email, parsed); refs != "" {
		fmt.Fprintf(&msg, "References: %s\r\n", refs)
	}
	msg.WriteString("MIME-Version: 1.0\r\n")

	bodyPart := buildBodyPart(textBody, htmlBody)

	if len(attachments) == 0 {
		msg.WriteString(bodyPart.headers)
		msg.WriteString("\r\n")
		msg.WriteString(bodyPart.content)
		return []byte(msg.String()), nil
	}

	mixedBoundary := "mixed-" + ulid.Make().String()
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixedBoundary)

	fmt.Fprintf(&msg, "--%s\r\n", mixedBoundary)
	msg.WriteString(bodyPart.headers)
	msg.WriteString("\r\n")
	msg.WriteString(bodyPart.content)
	msg.WriteString("\r\n")

	for _, att := range attachments {
		fmt.Fprintf(&msg, "--%s\r\n", mixedBoundary)
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fmt.Fprintf(&msg, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(&msg, "Content-Disposition: attachment; filename=%q\r\n", att.Filename)
		if att.ContentID != "" {
			fmt.Fprintf(&msg, "Content-ID: <%s>\r\n", strings.Trim(att.ContentID, "<>"))
		}
		msg.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		msg.WriteString(wrapBase64(att.Content))
		msg.WriteString("\r\n")
	}
	fmt.Fprintf(&msg, "--%s--\r\n", mixedBoundary)

	return []byte(msg.String()), nil
}

// loadAttachments returns attachment parts with content present,
// re-extracting from the retained raw message when a part was not kept
// in memory. Parts that cannot be recovered are skipped with a warning
// rather than failing the whole forward.
func (d *ForwardDispatcher) loadAttachments(email *models.Email, parsed *mailparse.ParsedEmail) []mailparse.Attachment {
	if parsed == nil {
		return nil
	}

	var out []mailparse.Attachment
	for _, att := range parsed.Attachments {
		if len(att.Content) == 0 && len(parsed.Raw) > 0 {
			content, err := mailparse.ExtractAttachment(parsed.Raw, att.Filename)
			if err != nil {
				d.logService.LogWarn(email.UserID, models.LogModuleDispatch, "attachment_skipped",
					fmt.Sprintf("Could not re-extract attachment %q from email %d: %v", att.Filename, email.ID, err),
					map[string]interface{}{"email_id": email.ID, "filename": att.Filename})
				continue
			}
			att.Content = content
		}
		if len(att.Content) == 0 {
			d.logService.LogWarn(email.UserID, models.LogModuleDispatch, "attachment_skipped",
				fmt.Sprintf("Attachment %q of email %d has no content, skipping", att.Filename, email.ID),
				map[string]interface{}{"email_id": email.ID, "filename": att.Filename})
			continue
		}
		out = append(out, att)
	}
	return out
}

// applyBanner inserts the configured notice into the forwarded bodies
func (d *ForwardDispatcher) applyBanner(textBody, htmlBody string) (string, string) {
	if d.banner == "" {
		return textBody, htmlBody
	}

	if textBody != "" {
		textBody = textBody + "\r\n\r\n--\r\n" + d.banner + "\r\n"
	}
	if htmlBody != "" {
		bannerHTML := "<p style=\"color:#666;font-size:12px\">" + d.banner + "</p>"
		lower := strings.ToLower(htmlBody)
		if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
			htmlBody = htmlBody[:idx] + bannerHTML + htmlBody[idx:]
		} else {
			htmlBody = htmlBody + bannerHTML
		}
	}
	return textBody, htmlBody
}

// mimePart is a rendered body part: its headers block and encoded content
type mimePart struct {
	headers string
	content string
}

// buildBodyPart renders the message body. Text plus HTML becomes a
// multipart/alternative part with text first, per RFC 2046 preference
// ordering.
func buildBodyPart(textBody, htmlBody string) mimePart {
	switch {
	case textBody != "" && htmlBody != "":
		boundary := "alt-" + ulid.Make().String()
		var content strings.Builder
		fmt.Fprintf(&content, "--%s\r\n", boundary)
		content.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		content.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		content.WriteString(wrapBase64([]byte(textBody)))
		content.WriteString("\r\n")
		fmt.Fprintf(&content, "--%s\r\n", boundary)
		content.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		content.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		content.WriteString(wrapBase64([]byte(htmlBody)))
		content.WriteString("\r\n")
		fmt.Fprintf(&content, "--%s--\r\n", boundary)
		return mimePart{
			headers: fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary),
			content: content.String(),
		}
	case htmlBody != "":
		return mimePart{
			headers: "Content-Type: text/html; charset=utf-8\r\nContent-Transfer-Encoding: base64\r\n",
			content: wrapBase64([]byte(htmlBody)),
		}
	default:
		return mimePart{
			headers: "Content-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: base64\r\n",
			content: wrapBase64([]byte(textBody)),
		}
	}
}

// referencesHeader rebuilds the References header from the parsed list,
// appending the original message id so threading survives the relay
func referencesHeader(email *models.Email, parsed *mailparse.ParsedEmail) string {
	var refs []string
	if parsed != nil {
		refs = append(refs, parsed.References...)
	}
	if email.MessageID != "" && !strings.HasPrefix(email.MessageID, "sha256:") && !strings.HasPrefix(email.MessageID, "gen:") {
		refs = append(refs, email.MessageID)
	}
	if len(refs) == 0 {
		return ""
	}
	formatted := make([]string, 0, len(refs))
	for _, ref := range refs {
		formatted = append(formatted, "<"+strings.Trim(ref, "<>")+">")
	}
	return strings.Join(formatted, " ")
}

// encodeHeaderWord RFC 2047 encodes a header value when it contains
// non-ASCII characters
func encodeHeaderWord(value string) string {
	for i := 0; i < len(value); i++ {
		if value[i] > 127 {
			return mime.QEncoding.Encode("utf-8", value)
		}
	}
	return value
}

// wrapBase64 encodes content and wraps lines at 76 characters per RFC 2045
func wrapBase64(content []byte) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	var out strings.Builder
	for len(encoded) > 76 {
		out.WriteString(encoded[:76])
		out.WriteString("\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded)
	return out.String()
}
