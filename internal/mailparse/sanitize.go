package mailparse

import (
	"regexp"
	"strings"
)

// Patterns removed from HTML bodies before they are handed to webhook
// consumers or forwarded. Order matters: block elements go first so
// their content disappears before attribute-level cleanup runs.
var (
	htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptBlockPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleBlockPattern  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	// Dangling openers left by malformed markup
	openScriptPattern = regexp.MustCompile(`(?is)<script\b[^>]*>`)
	openStylePattern  = regexp.MustCompile(`(?is)<style\b[^>]*>`)

	bannedTagPattern = regexp.MustCompile(`(?i)</?(iframe|object|embed|meta|link|base|form)\b[^>]*>`)

	eventHandlerPattern = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)

	scriptURIPattern = regexp.MustCompile(`(?i)\s+(href|src|action)\s*=\s*("\s*(?:javascript|vbscript):[^"]*"|'\s*(?:javascript|vbscript):[^']*'|\s*(?:javascript|vbscript):[^\s>]+)`)

	dataURIPattern = regexp.MustCompile(`(?i)\s+(href|src)\s*=\s*(["'])data:([^;,"']*)[^"']*["']`)
)

// SanitizeHTML strips active content from an HTML body: script and style
// blocks including their content, inline event handlers, javascript and
// vbscript URIs, iframe/object/embed/meta/link/base/form tags, and HTML
// comments. data: URIs survive only when they carry an image MIME type.
func SanitizeHTML(html string) string {
	if html == "" {
		return ""
	}

	html = htmlCommentPattern.ReplaceAllString(html, "")
	html = scriptBlockPattern.ReplaceAllString(html, "")
	html = styleBlockPattern.ReplaceAllString(html, "")
	html = openScriptPattern.ReplaceAllString(html, "")
	html = openStylePattern.ReplaceAllString(html, "")
	html = bannedTagPattern.ReplaceAllString(html, "")
	html = eventHandlerPattern.ReplaceAllString(html, "")
	html = scriptURIPattern.ReplaceAllString(html, "")

	// Keep data: URIs only for image MIME types
	html = dataURIPattern.ReplaceAllStringFunc(html, func(match string) string {
		groups := dataURIPattern.FindStringSubmatch(match)
		if len(groups) == 4 && strings.HasPrefix(strings.ToLower(groups[3]), "image/") {
			return match
		}
		return ""
	})

	return html
}

// StripHTML reduces an HTML body to plain text for summaries and
// compatibility views
func StripHTML(html string) string {
	html = scriptBlockPattern.ReplaceAllString(html, " ")
	html = styleBlockPattern.ReplaceAllString(html, " ")
	html = regexp.MustCompile(`<[^>]*>`).ReplaceAllString(html, " ")
	html = strings.ReplaceAll(html, "&nbsp;", " ")
	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	return strings.Join(strings.Fields(html), " ")
}
