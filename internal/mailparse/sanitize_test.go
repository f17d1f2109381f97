package mailparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		contains []string
		excludes []string
	}{
		{
			name:  "script block removed with content",
			input: `<p>hi</p><script type="text/javascript">alert("x")</script><p>bye</p>`,
			want:  `<p>hi</p><p>bye</p>`,
		},
		{
			name:  "style block removed with content",
			input: `<style>.a{color:red}</style><div>text</div>`,
			want:  `<div>text</div>`,
		},
		{
			name:  "html comment removed",
			input: `<p>a</p><!-- hidden --><p>b</p>`,
			want:  `<p>a</p><p>b</p>`,
		},
		{
			name:     "event handlers stripped",
			input:    `<div onclick="evil()" onmouseover='bad()'>click</div>`,
			contains: []string{"<div>click</div>"},
			excludes: []string{"onclick", "onmouseover"},
		},
		{
			name:     "javascript uri stripped",
			input:    `<a href="javascript:alert(1)">link</a>`,
			excludes: []string{"javascript:"},
		},
		{
			name:     "banned tags removed",
			input:    `<iframe src="http://evil"></iframe><form action="/x"><embed></form><p>kept</p>`,
			contains: []string{"<p>kept</p>"},
			excludes: []string{"<iframe", "<form", "<embed"},
		},
		{
			name:     "image data uri survives",
			input:    `<img src="data:image/png;base64,AAAA">`,
			contains: []string{"data:image/png"},
		},
		{
			name:     "non-image data uri removed",
			input:    `<a href="data:text/html;base64,AAAA">x</a>`,
			excludes: []string{"data:text/html"},
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:     "unclosed script opener removed",
			input:    `<p>before</p><script src="http://evil/x.js">`,
			contains: []string{"<p>before</p>"},
			excludes: []string{"<script"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeHTML(tt.input)
			if tt.want != "" || tt.input == "" {
				assert.Equal(t, tt.want, got)
			}
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML(`<div><p>Hello &amp; welcome</p><script>x</script></div>`)
	assert.Equal(t, "Hello & welcome", got)
}
