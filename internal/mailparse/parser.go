package mailparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

var (
	// ErrAttachmentNotFound indicates the named attachment is not present in the raw source
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// Parse decodes raw MIME bytes into a ParsedEmail. It never returns an
// error and never panics past this boundary: decoder failures fall back
// to a heuristic splitter that returns ParseSuccess=false with the
// failure recorded in ParseError.
func Parse(raw []byte) (parsed *ParsedEmail) {
	defer func() {
		if r := recover(); r != nil {
			parsed = fallbackParse(raw, fmt.Errorf("parser panic: %v", r))
		}
	}()

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && entity == nil {
		return fallbackParse(raw, err)
	}

	parsed = &ParsedEmail{
		Raw:          raw,
		ParseSuccess: true,
		Headers:      headerMap(entity),
	}

	parsed.Subject = headerText(entity, "Subject")
	parsed.MessageID = cleanMessageID(headerText(entity, "Message-Id"))
	parsed.InReplyTo = cleanMessageID(headerText(entity, "In-Reply-To"))
	parsed.References = splitReferences(headerText(entity, "References"))
	parsed.From = parseAddressList(headerText(entity, "From"))
	parsed.To = parseAddressList(headerText(entity, "To"))
	parsed.Cc = parseAddressList(headerText(entity, "Cc"))
	parsed.Bcc = parseAddressList(headerText(entity, "Bcc"))
	parsed.ReplyTo = parseAddressList(headerText(entity, "Reply-To"))
	parsed.Priority = parsePriority(entity.Header.Get("X-Priority"), entity.Header.Get("Importance"))

	if date, err := mail.ParseDate(entity.Header.Get("Date")); err == nil {
		parsed.Date = date
	}

	walkEntity(entity, parsed)

	if parsed.MessageID == "" {
		parsed.MessageID = synthesizeMessageID(parsed)
	}

	// Inline every attachment referenced by Content-ID into the HTML body
	if parsed.HTMLBody != "" {
		parsed.HTMLBody = InlineImages(parsed.HTMLBody, parsed.Attachments)
	}

	return parsed
}

// walkEntity recursively parses a message entity, collecting bodies and
// attachments the way the first text/plain and text/html parts win
func walkEntity(entity *message.Entity, parsed *ParsedEmail) {
	mediaType, params, _ := entity.Header.ContentType()

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := entity.MultipartReader()
		if mr == nil {
			return
		}
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			walkEntity(part, parsed)
		}
		return
	}

	disposition, dispParams := parseDisposition(entity.Header.Get("Content-Disposition"))
	isAttachment := false
	var filename string

	if disposition == "attachment" || (disposition == "inline" && dispParams["filename"] != "") {
		isAttachment = true
		filename = dispParams["filename"]
	}

	// A name parameter on Content-Type also marks an attachment
	if params["name"] != "" {
		isAttachment = true
		if filename == "" {
			filename = params["name"]
		}
	}

	if !isAttachment {
		if mediaType == "text/plain" && parsed.TextBody == "" {
			body, _ := io.ReadAll(entity.Body)
			parsed.TextBody = string(body)
			return
		}
		if mediaType == "text/html" && parsed.HTMLBody == "" {
			body, _ := io.ReadAll(entity.Body)
			parsed.HTMLBody = string(body)
			return
		}
	}

	// Non-text parts with content are attachments even without a disposition
	if !isAttachment && !strings.HasPrefix(mediaType, "text/") && mediaType != "" {
		isAttachment = true
	}

	if !isAttachment {
		return
	}

	content, _ := io.ReadAll(entity.Body)
	if len(content) == 0 {
		return
	}

	// Decode MIME encoded-word filenames (=?utf-8?B?...?=)
	if filename != "" {
		dec := new(mime.WordDecoder)
		if decoded, err := dec.DecodeHeader(filename); err == nil {
			filename = decoded
		}
	}
	if filename == "" {
		filename = defaultFilename(mediaType)
	}

	parsed.Attachments = append(parsed.Attachments, Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Size:        len(content),
		ContentID:   strings.Trim(entity.Header.Get("Content-Id"), "<> "),
		Disposition: disposition,
		Content:     content,
	})
}

// ExtractAttachment re-parses the retained raw source and returns the
// binary content of the attachment with the given filename
func ExtractAttachment(raw []byte, filename string) ([]byte, error) {
	parsed := Parse(raw)
	for _, att := range parsed.Attachments {
		if att.Filename == filename {
			return att.Content, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, filename)
}

// parseDisposition parses a Content-Disposition header value
func parseDisposition(value string) (string, map[string]string) {
	if value == "" {
		return "", nil
	}
	dispType, dispParams, err := mime.ParseMediaType(value)
	if err != nil {
		return "", nil
	}
	return dispType, dispParams
}

// headerText returns the decoded text of a header field
func headerText(entity *message.Entity, key string) string {
	text, err := entity.Header.Text(key)
	if err != nil {
		return entity.Header.Get(key)
	}
	return text
}

// headerMap builds a normalized lower-case header map. Repeated fields
// are joined with ", " like Received chains in the original source.
func headerMap(entity *message.Entity) map[string]string {
	headers := make(map[string]string)
	fields := entity.Header.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		if existing, ok := headers[key]; ok {
			headers[key] = existing + ", " + value
		} else {
			headers[key] = value
		}
	}
	return headers
}

// parseAddressList normalizes an address header into text plus mailboxes
func parseAddressList(text string) AddressList {
	list := AddressList{Text: strings.TrimSpace(text)}
	if list.Text == "" {
		return list
	}

	addrs, err := mail.ParseAddressList(list.Text)
	if err != nil {
		// Best effort: treat comma-separated tokens containing @ as bare addresses
		for _, token := range strings.Split(list.Text, ",") {
			token = strings.TrimSpace(token)
			if strings.Contains(token, "@") {
				list.Addresses = append(list.Addresses, Address{Address: strings.Trim(token, "<>")})
			}
		}
		return list
	}

	for _, addr := range addrs {
		list.Addresses = append(list.Addresses, Address{
			Name:    addr.Name,
			Address: addr.Address,
		})
	}
	return list
}

// splitReferences splits a References header into an ordered message-id list
func splitReferences(value string) []string {
	var refs []string
	for _, token := range strings.Fields(value) {
		if id := cleanMessageID(token); id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

// cleanMessageID strips angle brackets and whitespace from a message id
func cleanMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// parsePriority maps X-Priority/Importance headers to a priority level
func parsePriority(xPriority, importance string) string {
	if xPriority != "" {
		switch xPriority[0] {
		case '1', '2':
			return PriorityHigh
		case '4', '5':
			return PriorityLow
		}
	}
	switch strings.ToLower(strings.TrimSpace(importance)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	}
	return PriorityNormal
}

// synthesizeMessageID generates a stable message id for messages without one
func synthesizeMessageID(parsed *ParsedEmail) string {
	if len(parsed.Raw) > 0 {
		sum := sha256.Sum256(parsed.Raw)
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	seed := fmt.Sprintf("%d|%s|%s", parsed.Date.UnixNano(), parsed.Subject, parsed.From.Text)
	sum := sha256.Sum256([]byte(seed))
	return "gen:" + hex.EncodeToString(sum[:16])
}

// defaultFilename generates a filename for attachments without one
func defaultFilename(mediaType string) string {
	ext := ".bin"
	if strings.HasPrefix(mediaType, "image/") {
		ext = "." + strings.TrimPrefix(mediaType, "image/")
	} else if mediaType == "application/pdf" {
		ext = ".pdf"
	}
	return "attachment" + ext
}
