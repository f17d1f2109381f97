// Package thread reconstructs conversations from parsed emails and
// separates new content from quoted content for display.
package thread

import (
	"regexp"
	"strings"
)

// QuoteAnalysis is the split of one message body into new and quoted
// content plus the nesting depth of the quoted part
type QuoteAnalysis struct {
	NewContent       string `json:"new_content"`
	QuotedContent    string `json:"quoted_content"`
	HasQuotedContent bool   `json:"has_quoted_content"`
	QuoteLevels      int    `json:"quote_levels"`
}

// quoteDetector is one named rule in the ordered attribution-marker list
type quoteDetector struct {
	name    string
	pattern *regexp.Regexp
}

// Ordered detectors for plain-text attribution markers. The first line
// matched by any detector starts the quoted region.
var textDetectors = []quoteDetector{
	{"on-wrote", regexp.MustCompile(`^On .{1,200} wrote:\s*$`)},
	{"on-wrote-de", regexp.MustCompile(`^Am .{1,200} schrieb .{0,200}:\s*$`)},
	{"on-wrote-fr", regexp.MustCompile(`^Le .{1,200} a écrit\s?:\s*$`)},
	{"on-wrote-es", regexp.MustCompile(`^El .{1,200} escribió:\s*$`)},
	{"original-message", regexp.MustCompile(`^-{3,}\s*Original Message\s*-{3,}\s*$`)},
	{"forwarded-message", regexp.MustCompile(`^-{5,}\s*Forwarded message\s*-{5,}\s*$`)},
	{"quote-prefix", regexp.MustCompile(`^>`)},
	{"mobile-signature", regexp.MustCompile(`^(Sent from my (iPhone|iPad|Android|Samsung|Galaxy|BlackBerry)|Get Outlook for (iOS|Android))`)},
}

// HTML structural markers for quoted regions
var (
	blockquotePattern = regexp.MustCompile(`(?i)<blockquote\b`)
	quoteDivPattern   = regexp.MustCompile(`(?i)<div[^>]*(class\s*=\s*["'][^"']*(gmail_quote|yahoo_quoted|moz-cite-prefix)[^"']*["']|id\s*=\s*["']divRplyFwdMsg["'])`)
	blockquoteTagOpen = regexp.MustCompile(`(?i)<blockquote\b[^>]*>`)
	blockquoteTagEnd  = regexp.MustCompile(`(?i)</blockquote>`)
)

// SplitQuotes separates the new content of a plain-text body from its
// quoted content. Empty or malformed input never fails; it yields
// HasQuotedContent=false and QuoteLevels=0.
func SplitQuotes(body string) QuoteAnalysis {
	analysis := QuoteAnalysis{NewContent: body}
	if strings.TrimSpace(body) == "" {
		analysis.NewContent = body
		return analysis
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	quoteStart := -1
	for i, line := range lines {
		if matchesAnyDetector(strings.TrimSpace(line)) {
			quoteStart = i
			break
		}
	}

	if quoteStart < 0 {
		return analysis
	}

	analysis.NewContent = strings.TrimRight(strings.Join(lines[:quoteStart], "\n"), "\n ")
	analysis.QuotedContent = strings.Join(lines[quoteStart:], "\n")
	analysis.HasQuotedContent = true
	analysis.QuoteLevels = maxQuoteDepth(lines[quoteStart:])
	if analysis.QuoteLevels == 0 {
		// Attribution markers without > prefixes still denote one quote level
		analysis.QuoteLevels = 1
	}
	return analysis
}

// SplitQuotesHTML separates new from quoted content in an HTML body
// using structural markers (blockquote tags and quote-styled divs)
func SplitQuotesHTML(body string) QuoteAnalysis {
	analysis := QuoteAnalysis{NewContent: body}
	if strings.TrimSpace(body) == "" {
		analysis.NewContent = body
		return analysis
	}

	start := -1
	if loc := blockquotePattern.FindStringIndex(body); loc != nil {
		start = loc[0]
	}
	if loc := quoteDivPattern.FindStringIndex(body); loc != nil && (start < 0 || loc[0] < start) {
		start = loc[0]
	}

	if start < 0 {
		return analysis
	}

	analysis.NewContent = body[:start]
	analysis.QuotedContent = body[start:]
	analysis.HasQuotedContent = true
	analysis.QuoteLevels = blockquoteDepth(body[start:])
	if analysis.QuoteLevels == 0 {
		analysis.QuoteLevels = 1
	}
	return analysis
}

// matchesAnyDetector runs the ordered detector list against one line
func matchesAnyDetector(line string) bool {
	for _, detector := range textDetectors {
		if detector.pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// maxQuoteDepth counts the deepest run of leading > characters
func maxQuoteDepth(lines []string) int {
	depth := 0
	for _, line := range lines {
		count := 0
		for _, r := range line {
			if r == '>' {
				count++
			} else if r != ' ' && r != '\t' {
				break
			}
		}
		if count > depth {
			depth = count
		}
	}
	return depth
}

// blockquoteDepth tracks the maximum nesting of blockquote tags
func blockquoteDepth(html string) int {
	opens := blockquoteTagOpen.FindAllStringIndex(html, -1)
	closes := blockquoteTagEnd.FindAllStringIndex(html, -1)

	type event struct {
		pos   int
		delta int
	}
	var events []event
	for _, loc := range opens {
		events = append(events, event{loc[0], 1})
	}
	for _, loc := range closes {
		events = append(events, event{loc[0], -1})
	}
	// Insertion sort keeps the event list ordered by position
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].pos < events[j-1].pos; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}

	depth, maxDepth := 0, 0
	for _, e := range events {
		depth += e.delta
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}
