package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitQuotes(t *testing.T) {
	t.Run("on-wrote attribution", func(t *testing.T) {
		body := "Sounds good, see you then.\n\nOn Tue, Jul 1, 2025 at 10:00 AM Alice <alice@example.com> wrote:\n> Are we still meeting tomorrow?\n> Alice"
		got := SplitQuotes(body)

		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, "Sounds good, see you then.", got.NewContent)
		assert.Contains(t, got.QuotedContent, "Are we still meeting")
		assert.Equal(t, 1, got.QuoteLevels)
	})

	t.Run("nested quote depth", func(t *testing.T) {
		body := "My reply.\n> Level one\n>> Level two\n>>> Level three"
		got := SplitQuotes(body)

		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, "My reply.", got.NewContent)
		assert.Equal(t, 3, got.QuoteLevels)
	})

	t.Run("original message separator", func(t *testing.T) {
		body := "Thanks!\n\n----- Original Message -----\nFrom: someone"
		got := SplitQuotes(body)

		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, "Thanks!", got.NewContent)
		assert.Equal(t, 1, got.QuoteLevels)
	})

	t.Run("no quoted content", func(t *testing.T) {
		body := "Just a plain message.\nWith two lines."
		got := SplitQuotes(body)

		assert.False(t, got.HasQuotedContent)
		assert.Equal(t, body, got.NewContent)
		assert.Empty(t, got.QuotedContent)
		assert.Equal(t, 0, got.QuoteLevels)
	})

	t.Run("empty body", func(t *testing.T) {
		got := SplitQuotes("")
		assert.False(t, got.HasQuotedContent)
		assert.Equal(t, 0, got.QuoteLevels)
	})

	t.Run("german attribution", func(t *testing.T) {
		body := "Passt.\n\nAm 01.07.2025 um 10:00 schrieb Alice:\n> Termin morgen?"
		got := SplitQuotes(body)
		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, "Passt.", got.NewContent)
	})

	t.Run("mobile signature starts quote region", func(t *testing.T) {
		body := "Quick answer.\nSent from my iPhone"
		got := SplitQuotes(body)
		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, "Quick answer.", got.NewContent)
	})
}

func TestSplitQuotesHTML(t *testing.T) {
	t.Run("blockquote", func(t *testing.T) {
		body := `<div>New reply</div><blockquote><p>old content</p></blockquote>`
		got := SplitQuotesHTML(body)

		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, "<div>New reply</div>", got.NewContent)
		assert.Contains(t, got.QuotedContent, "old content")
		assert.Equal(t, 1, got.QuoteLevels)
	})

	t.Run("nested blockquotes", func(t *testing.T) {
		body := `<p>top</p><blockquote>a<blockquote>b</blockquote></blockquote>`
		got := SplitQuotesHTML(body)

		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, 2, got.QuoteLevels)
	})

	t.Run("gmail quote div", func(t *testing.T) {
		body := `<div dir="ltr">reply text</div><div class="gmail_quote">On Tue...</div>`
		got := SplitQuotesHTML(body)

		assert.True(t, got.HasQuotedContent)
		assert.Equal(t, `<div dir="ltr">reply text</div>`, got.NewContent)
	})

	t.Run("no quote markers", func(t *testing.T) {
		body := `<p>only new content</p>`
		got := SplitQuotesHTML(body)
		assert.False(t, got.HasQuotedContent)
		assert.Equal(t, body, got.NewContent)
	})

	t.Run("empty body", func(t *testing.T) {
		got := SplitQuotesHTML("")
		assert.False(t, got.HasQuotedContent)
	})
}
