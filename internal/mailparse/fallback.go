package mailparse

import (
	"net/mail"
	"strings"
)

// fallbackParse is the heuristic splitter used when the primary decoder
// fails. It splits headers from body at the first blank line, parses
// headers by colon, and sniffs the body for HTML. The result always has
// ParseSuccess=false and a populated ParseError.
func fallbackParse(raw []byte, cause error) *ParsedEmail {
	parsed := &ParsedEmail{
		Raw:          raw,
		ParseSuccess: false,
		Headers:      make(map[string]string),
		Priority:     PriorityNormal,
	}
	if cause != nil {
		parsed.ParseError = cause.Error()
	} else {
		parsed.ParseError = "unknown parse failure"
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	headerPart := text
	body := ""
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		headerPart = text[:idx]
		body = text[idx+2:]
	}

	parseFallbackHeaders(headerPart, parsed)

	if body != "" {
		if sniffHTML(body, parsed.Headers["content-type"]) {
			parsed.HTMLBody = body
		} else {
			parsed.TextBody = body
		}
	}

	if parsed.MessageID == "" {
		parsed.MessageID = synthesizeMessageID(parsed)
	}

	return parsed
}

// parseFallbackHeaders fills header-derived fields using simple colon
// splitting with continuation-line unfolding
func parseFallbackHeaders(headerPart string, parsed *ParsedEmail) {
	var lines []string
	for _, line := range strings.Split(headerPart, "\n") {
		// Continuation lines start with whitespace and belong to the previous field
		if len(lines) > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			lines[len(lines)-1] += " " + strings.TrimSpace(line)
			continue
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if key == "" || value == "" {
			continue
		}
		if existing, ok := parsed.Headers[key]; ok {
			parsed.Headers[key] = existing + ", " + value
		} else {
			parsed.Headers[key] = value
		}

		switch key {
		case "subject":
			parsed.Subject = value
		case "from":
			parsed.From = parseAddressList(value)
		case "to":
			parsed.To = parseAddressList(value)
		case "cc":
			parsed.Cc = parseAddressList(value)
		case "reply-to":
			parsed.ReplyTo = parseAddressList(value)
		case "message-id":
			parsed.MessageID = cleanMessageID(value)
		case "in-reply-to":
			parsed.InReplyTo = cleanMessageID(value)
		case "references":
			parsed.References = splitReferences(value)
		case "date":
			if date, err := mail.ParseDate(value); err == nil {
				parsed.Date = date
			}
		}
	}
}

// sniffHTML decides whether a fallback body should be treated as HTML
func sniffHTML(body, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	lowered := strings.ToLower(body)
	for _, marker := range []string{"<html", "<body", "<div", "<table", "<p>", "<br"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
