package mailparse

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// InlineImages replaces Content-ID references in an HTML body with
// data: URIs built from the matching attachments. Handled reference
// shapes: cid:<id> anywhere, a bare <id> used as src, and the
// src-cid="<id>" attribute some clients emit. References without a
// matching attachment are left as-is.
func InlineImages(html string, attachments []Attachment) string {
	if html == "" {
		return html
	}

	for _, att := range attachments {
		if att.ContentID == "" || len(att.Content) == 0 {
			continue
		}
		id := strings.Trim(att.ContentID, "<> ")
		if id == "" {
			continue
		}

		dataURI := "data:" + att.ContentType + ";base64," + base64.StdEncoding.EncodeToString(att.Content)
		quoted := regexp.QuoteMeta(id)

		// cid:<id> in any attribute value
		html = strings.ReplaceAll(html, "cid:"+id, dataURI)

		// bare <id> used directly as a src value
		bareSrc := regexp.MustCompile(`(?i)(src\s*=\s*["'])` + quoted + `(["'])`)
		html = bareSrc.ReplaceAllString(html, "${1}"+dataURI+"${2}")

		// src-cid="<id>" attribute form
		srcCid := regexp.MustCompile(`(?i)src-cid\s*=\s*["']` + quoted + `["']`)
		html = srcCid.ReplaceAllString(html, `src="`+dataURI+`"`)
	}

	return html
}
